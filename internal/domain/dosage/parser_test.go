package dosage

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Instruction
	}{
		{
			name: "four slots with zeros",
			in:   "1-0-1-0",
			want: []Instruction{{Amount: "1", Time: Morning}, {Amount: "1", Time: Evening}},
		},
		{
			name: "three slots",
			in:   "1-1-1",
			want: []Instruction{{Amount: "1", Time: Morning}, {Amount: "1", Time: Noon}, {Amount: "1", Time: Evening}},
		},
		{
			name: "halves and decimals",
			in:   "½-1½-0,5-2.5",
			want: []Instruction{
				{Amount: "½", Time: Morning},
				{Amount: "1½", Time: Noon},
				{Amount: "0,5", Time: Evening},
				{Amount: "2.5", Time: Night},
			},
		},
		{
			name: "empty slots are dropped",
			in:   "-1--2",
			want: []Instruction{{Amount: "1", Time: Noon}, {Amount: "2", Time: Night}},
		},
		{
			name: "surrounding brackets and whitespace",
			in:   "  <(0 - 0 - 1)>  ",
			want: []Instruction{{Amount: "1", Time: Evening}},
		},
		{name: "all zero", in: "0-0-0", want: nil},
		{name: "zero with decimal comma", in: "0,0-1-0", want: []Instruction{{Amount: "1", Time: Noon}}},
		{name: "zero with decimal point", in: "1-0.0-0-0.00", want: []Instruction{{Amount: "1", Time: Morning}}},
		{name: "padded zero", in: "00-00-2", want: []Instruction{{Amount: "2", Time: Evening}}},
		{name: "leading zero keeps dose", in: "01-0-0", want: []Instruction{{Amount: "01", Time: Morning}}},
		{name: "empty", in: "", want: nil},
		{name: "free text", in: "1x daily", want: nil},
		{name: "too many slots", in: "1-1-1-1-1", want: nil},
		{name: "letters in slot", in: "1-a-1", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeOfDayHour(t *testing.T) {
	want := map[TimeOfDay]int{Morning: 8, Noon: 12, Evening: 18, Night: 20}
	for tod, hour := range want {
		if got := tod.Hour(); got != hour {
			t.Errorf("%s.Hour() = %d, want %d", tod, got, hour)
		}
		if tod.Minute() != 0 {
			t.Errorf("%s.Minute() = %d, want 0", tod, tod.Minute())
		}
	}
}

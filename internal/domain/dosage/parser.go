// Package dosage turns free-text dosage instructions into structured daily intakes.
package dosage

import (
	"regexp"
	"strconv"
	"strings"
)

// TimeOfDay is one of the fixed intake slots of the "morning-noon-evening-night" scheme.
type TimeOfDay string

const (
	Morning TimeOfDay = "morning"
	Noon    TimeOfDay = "noon"
	Evening TimeOfDay = "evening"
	Night   TimeOfDay = "night"
)

// Hour returns the wall-clock hour a reminder for this slot fires at.
func (t TimeOfDay) Hour() int {
	switch t {
	case Morning:
		return 8
	case Noon:
		return 12
	case Evening:
		return 18
	case Night:
		return 20
	default:
		return 0
	}
}

// Minute is always zero for the fixed slots.
func (t TimeOfDay) Minute() int { return 0 }

// Instruction is a single intake derived from a dosage instruction.
type Instruction struct {
	Amount string    `json:"amount"`
	Time   TimeOfDay `json:"time"`
}

// amount accepts "", "1", "1½", "1,5", "0.5" and "½".
const amount = `\d+½?|\d+[.,]\d+|½`

func slot(name string) string {
	return `(?P<` + name + `>` + amount + `)?`
}

const (
	lead = `^[\s<(]*`
	sep  = `\s*-\s*`
	tail = `[\s>)]*$`
)

var (
	threeSlots = regexp.MustCompile(lead + slot("morning") + sep + slot("noon") + sep + slot("evening") + tail)
	fourSlots  = regexp.MustCompile(lead + slot("morning") + sep + slot("noon") + sep + slot("evening") + sep + slot("night") + tail)
)

var slotOrder = []TimeOfDay{Morning, Noon, Evening, Night}

// Parse reads instructions of the form "1-0-1" or "1-0-1-0". Text that does not
// match either form yields no instructions; callers show the raw text instead.
func Parse(text string) []Instruction {
	for _, re := range []*regexp.Regexp{threeSlots, fourSlots} {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		return collect(re, match)
	}
	return nil
}

func collect(re *regexp.Regexp, match []string) []Instruction {
	var out []Instruction
	for _, t := range slotOrder {
		idx := re.SubexpIndex(string(t))
		if idx < 0 {
			continue
		}
		value := strings.TrimSpace(match[idx])
		if isZero(value) {
			continue
		}
		out = append(out, Instruction{Amount: value, Time: t})
	}
	return out
}

// isZero reports whether an amount token denotes no dose. "00", "0,0" and "0.0"
// count as zero; any half makes the amount nonzero.
func isZero(value string) bool {
	if value == "" {
		return true
	}
	if strings.Contains(value, "½") {
		return false
	}
	n, err := strconv.ParseFloat(strings.Replace(value, ",", ".", 1), 64)
	return err == nil && n == 0
}

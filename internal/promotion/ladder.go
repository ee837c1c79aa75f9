package promotion

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Family identifies a class progression.
type Family string

const (
	FamilyECD       Family = "ecd"
	FamilyPrimary   Family = "primary"
	FamilySecondary Family = "secondary"
	FamilyCollege   Family = "college"
)

// OutcomeKind is what happens to a student at year end.
type OutcomeKind string

const (
	OutcomePromote  OutcomeKind = "promote"
	OutcomeGraduate OutcomeKind = "graduate"
	OutcomePending  OutcomeKind = "pending"
)

// Track is one progression: a class-name prefix followed by ordered levels.
// Leaving the top level either graduates the student or, when PendingTarget is
// set, parks them for manual placement into that class.
type Track struct {
	Family        Family   `json:"family"`
	Prefix        string   `json:"prefix"`
	Levels        []string `json:"levels"`
	PendingTarget string   `json:"pendingTarget,omitempty"`
}

// Ladder is the set of progressions the school uses.
type Ladder struct {
	Tracks []Track `json:"tracks"`
}

// DefaultLadder returns the standard progressions.
func DefaultLadder() Ladder {
	return Ladder{Tracks: []Track{
		{Family: FamilyECD, Prefix: "ECD", Levels: []string{"A", "B"}, PendingTarget: "Grade 1"},
		{Family: FamilyPrimary, Prefix: "Grade", Levels: []string{"1", "2", "3", "4", "5", "6", "7"}},
		{Family: FamilySecondary, Prefix: "Form", Levels: []string{"1", "2", "3", "4", "5", "6"}},
		{Family: FamilyCollege, Prefix: "College Year", Levels: []string{"1", "2", "3"}},
	}}
}

// ClassLevel is a parsed class name.
type ClassLevel struct {
	Family Family `json:"family"`
	Prefix string `json:"prefix"`
	Index  int    `json:"index"`
	Level  string `json:"level"`
	Suffix string `json:"suffix,omitempty"`
}

// Name renders the class name, keeping any section suffix.
func (c ClassLevel) Name() string {
	name := c.Prefix + " " + c.Level
	if c.Suffix != "" {
		name += " " + c.Suffix
	}
	return name
}

// BaseName renders the class name without its section suffix.
func (c ClassLevel) BaseName() string {
	return c.Prefix + " " + c.Level
}

// Outcome is the result of moving a class one step up its ladder.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	Next ClassLevel  `json:"next"`
}

// Parse recognises name as a rung of one of the tracks. Matching ignores case,
// width variants and repeated spaces; trailing words are kept as the suffix.
func (l Ladder) Parse(name string) (ClassLevel, bool) {
	words := strings.Fields(norm.NFKC.String(name))
	if len(words) == 0 {
		return ClassLevel{}, false
	}
	best := -1
	var found ClassLevel
	for _, t := range l.Tracks {
		prefix := strings.Fields(t.Prefix)
		if len(words) <= len(prefix) || len(prefix) <= best {
			continue
		}
		if !equalWords(words[:len(prefix)], prefix) {
			continue
		}
		for i, level := range t.Levels {
			if !strings.EqualFold(words[len(prefix)], level) {
				continue
			}
			best = len(prefix)
			found = ClassLevel{
				Family: t.Family,
				Prefix: t.Prefix,
				Index:  i,
				Level:  level,
				Suffix: strings.Join(words[len(prefix)+1:], " "),
			}
			break
		}
	}
	return found, best >= 0
}

// Successor returns the next rung of level, or the graduate/pending outcome at
// the top of its track.
func (l Ladder) Successor(level ClassLevel) Outcome {
	t, ok := l.track(level.Family)
	if !ok {
		return Outcome{Kind: OutcomeGraduate}
	}
	if level.Index+1 < len(t.Levels) {
		next := level
		next.Index++
		next.Level = t.Levels[next.Index]
		return Outcome{Kind: OutcomePromote, Next: next}
	}
	if t.PendingTarget != "" {
		// Section placement in the target class is manual, so the suffix is dropped.
		target, ok := l.Parse(t.PendingTarget)
		if ok {
			return Outcome{Kind: OutcomePending, Next: target}
		}
	}
	return Outcome{Kind: OutcomeGraduate}
}

func (l Ladder) track(f Family) (Track, bool) {
	for _, t := range l.Tracks {
		if t.Family == f {
			return t, true
		}
	}
	return Track{}, false
}

// ParseClass parses name against DefaultLadder.
func ParseClass(name string) (ClassLevel, bool) {
	return DefaultLadder().Parse(name)
}

// Successor applies DefaultLadder.
func Successor(level ClassLevel) Outcome {
	return DefaultLadder().Successor(level)
}

func equalWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

package promotion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseClassNormalisesNames(t *testing.T) {
	cases := []struct {
		in     string
		family Family
		level  string
		suffix string
	}{
		{"Grade 3", FamilyPrimary, "3", ""},
		{"  grade   3  East ", FamilyPrimary, "3", "East"},
		{"Ｇｒａｄｅ ３", FamilyPrimary, "3", ""},
		{"ecd b", FamilyECD, "B", ""},
		{"FORM 2 Science", FamilySecondary, "2", "Science"},
		{"College Year 1", FamilyCollege, "1", ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			level, ok := ParseClass(tc.in)
			require.True(t, ok)
			require.Equal(t, tc.family, level.Family)
			require.Equal(t, tc.level, level.Level)
			require.Equal(t, tc.suffix, level.Suffix)
		})
	}

	for _, name := range []string{"", "Grade", "Grade 8", "Form 7", "Kindergarten", "College 1", "Year 2"} {
		_, ok := ParseClass(name)
		require.False(t, ok, name)
	}
}

func TestSuccessorWithinTracks(t *testing.T) {
	for n := 1; n < 7; n++ {
		level, ok := ParseClass(fmt.Sprintf("Grade %d", n))
		require.True(t, ok)
		out := Successor(level)
		require.Equal(t, OutcomePromote, out.Kind)
		require.Equal(t, fmt.Sprintf("Grade %d", n+1), out.Next.Name())
		require.Equal(t, FamilyPrimary, out.Next.Family)
	}

	level, _ := ParseClass("grade 3 east")
	require.Equal(t, "Grade 4 East", Successor(level).Next.Name())

	level, _ = ParseClass("ECD A")
	require.Equal(t, "ECD B", Successor(level).Next.Name())

	level, _ = ParseClass("College Year 2")
	require.Equal(t, "College Year 3", Successor(level).Next.Name())
}

func TestSuccessorAtTopOfTrack(t *testing.T) {
	for _, name := range []string{"Grade 7", "Grade 7 West", "Form 6", "College Year 3"} {
		level, ok := ParseClass(name)
		require.True(t, ok)
		require.Equal(t, OutcomeGraduate, Successor(level).Kind, name)
	}

	level, ok := ParseClass("ECD B Red")
	require.True(t, ok)
	out := Successor(level)
	require.Equal(t, OutcomePending, out.Kind)
	require.Equal(t, "Grade 1", out.Next.Name())
}

func TestCustomLadder(t *testing.T) {
	ladder := Ladder{Tracks: []Track{
		{Family: "junior", Prefix: "Year", Levels: []string{"R", "1", "2"}},
	}}
	level, ok := ladder.Parse("year r")
	require.True(t, ok)
	require.Equal(t, "Year 1", ladder.Successor(level).Next.Name())

	_, ok = ladder.Parse("Grade 1")
	require.False(t, ok)
}

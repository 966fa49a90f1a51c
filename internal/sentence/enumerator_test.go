package sentence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumerate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "two simple sentences",
			text: "The company earned $5M in 2023. Growth was 25%.",
			want: []string{"The company earned $5M in 2023.", "Growth was 25%."},
		},
		{
			name: "empty text",
			text: "",
			want: nil,
		},
		{
			name: "whitespace only",
			text: "   \n\t ",
			want: nil,
		},
		{
			name: "no terminal punctuation",
			text: "a fragment without any terminator",
			want: []string{"a fragment without any terminator"},
		},
		{
			name: "abbreviation does not split",
			text: "Dr. Smith examined the site. Results were clear.",
			want: []string{"Dr. Smith examined the site.", "Results were clear."},
		},
		{
			name: "company abbreviation",
			text: "Acme Inc. Reported strong results. Shares rose.",
			want: []string{"Acme Inc. Reported strong results.", "Shares rose."},
		},
		{
			name: "et al citation",
			text: "Seed predation was high (Jones et al. The full dataset is below.",
			want: []string{"Seed predation was high (Jones et al. The full dataset is below."},
		},
		{
			name: "single letter initial",
			text: "The study by J. Smith found nothing. It was repeated.",
			want: []string{"The study by J. Smith found nothing.", "It was repeated."},
		},
		{
			name: "lowercase after period under-splits",
			text: "measured at 3.5 cm. the rest was discarded.",
			want: []string{"measured at 3.5 cm. the rest was discarded."},
		},
		{
			name: "question and exclamation terminators",
			text: "Was the effect real? Yes! Replication confirmed it.",
			want: []string{"Was the effect real?", "Yes!", "Replication confirmed it."},
		},
		{
			name: "trailing whitespace fragment dropped",
			text: "Only one sentence here.   ",
			want: []string{"Only one sentence here."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Enumerate(tt.text)
			require.Len(t, got, len(tt.want))
			for i, s := range got {
				assert.Equal(t, i+1, s.ID, "ids must be contiguous from 1")
				assert.Equal(t, tt.want[i], s.Text)
			}
		})
	}
}

func TestEnumerateDeterministic(t *testing.T) {
	text := "Dr. Jones visited the plot. Beetle counts rose. Rainfall fell!"
	first := Enumerate(text)
	second := Enumerate(text)
	require.Equal(t, first, second)
}

func TestFormat(t *testing.T) {
	sentences := Enumerate("First fact. Second fact.")
	require.Len(t, sentences, 2)
	assert.Equal(t, "[1] First fact.\n[2] Second fact.", Format(sentences))
	assert.Equal(t, "", Format(nil))
}

func TestByID(t *testing.T) {
	sentences := Enumerate("One thing. Another thing.")

	s, ok := ByID(sentences, 2)
	require.True(t, ok)
	assert.Equal(t, "Another thing.", s.Text)

	_, ok = ByID(sentences, 0)
	assert.False(t, ok)
	_, ok = ByID(sentences, 99)
	assert.False(t, ok)
}

func TestValidIDs(t *testing.T) {
	sentences := Enumerate("One thing. Another thing.")
	assert.True(t, ValidIDs(sentences, []int{1, 2}))
	assert.False(t, ValidIDs(sentences, []int{1, 3}))
	assert.False(t, ValidIDs(sentences, []int{0}))
	assert.True(t, ValidIDs(sentences, nil))
}

package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/rolens/internal/model"
)

func TestDecodeCurrentAndLegacyValues(t *testing.T) {
	data := []byte(`{
  "base": {
    "9": 4200,
    "10": {"xp": 9800, "confirmed": true},
    "11": {"xp": 120}
  }
}`)

	doc, err := Decode(data, true)
	require.NoError(t, err)
	assert.Equal(t, Levels{
		9:  {XP: 4200},
		10: {XP: 9800, Confirmed: true},
		11: {XP: 120},
	}, doc[model.TrackBase])
	assert.NotContains(t, doc, model.TrackJob)
}

func TestDecodeJoinsDuplicateNumericKeys(t *testing.T) {
	doc, err := Decode([]byte(`{"base": {"07": {"xp": 50, "confirmed": true}, "7": 80}}`), false)
	require.NoError(t, err)
	assert.Equal(t, Entry{XP: 80, Confirmed: true}, doc[model.TrackBase][7])
}

func TestDecodeRejectsBadShapes(t *testing.T) {
	cases := map[string]string{
		"non numeric key":  `{"base": {"ten": 5}}`,
		"level too large":  `{"base": {"70000": 5}}`,
		"negative xp":      `{"base": {"1": -5}}`,
		"string value":     `{"base": {"1": "5"}}`,
		"base not object":  `{"base": [1, 2]}`,
		"not json":         `{"base":`,
		"entry wrong type": `{"base": {"1": {"xp": "a"}}}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(input), false)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestDecodeRequireBase(t *testing.T) {
	_, err := Decode([]byte(`{"job": {}}`), true)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = Decode([]byte(`  `), true)
	assert.ErrorIs(t, err, ErrFormat)

	doc, err := Decode([]byte(`{"job": {"3": 10}}`), false)
	require.NoError(t, err)
	assert.Equal(t, Entry{XP: 10}, doc[model.TrackJob][3])

	doc, err = Decode(nil, false)
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestEncodeOrdersLevelsNumerically(t *testing.T) {
	data, err := Encode(Document{model.TrackBase: Levels{
		10: {XP: 9800, Confirmed: true},
		9:  {XP: 4200},
	}})
	require.NoError(t, err)
	assert.Equal(t, `{
  "base": {
    "9": {
      "xp": 4200,
      "confirmed": false
    },
    "10": {
      "xp": 9800,
      "confirmed": true
    }
  }
}
`, string(data))
}

func TestEncodeEmptyDocumentKeepsBase(t *testing.T) {
	data, err := Encode(Document{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"base": {}}`, string(data))

	doc, err := Decode(data, true)
	require.NoError(t, err)
	assert.Empty(t, doc[model.TrackBase])
}

package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeAction(t *testing.T) {
	for _, kind := range []string{KindVoteUp, KindVoteDown, KindUnvote, KindPriority} {
		a := Action{Kind: kind, RequestID: 1790000000000000123}
		data, err := EncodeAction(a)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(data), 64, "Bot API callback data limit")
		assert.Regexp(t, `^v1:`, data)

		got, err := DecodeAction(data)
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
}

func TestEncodeAction_Rejects(t *testing.T) {
	_, err := EncodeAction(Action{Kind: "boost", RequestID: 1})
	assert.ErrorIs(t, err, ErrUnknownAction)
	_, err = EncodeAction(Action{Kind: KindVoteUp})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDecodeAction_LegacyForms(t *testing.T) {
	cases := map[string]Action{
		"vote_up_42":     {Kind: KindVoteUp, RequestID: 42},
		"vote_down_42":   {Kind: KindVoteDown, RequestID: 42},
		"pay_priority_7": {Kind: KindPriority, RequestID: 7},
		"vote:9":         {Kind: KindVoteUp, RequestID: 9},
		"unvote:9":       {Kind: KindUnvote, RequestID: 9},
		" vote_up_42\n":  {Kind: KindVoteUp, RequestID: 42},
	}
	for in, want := range cases {
		got, err := DecodeAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestDecodeAction_Unknown(t *testing.T) {
	for _, in := range []string{
		"",
		"vote_sideways_1",
		"vote_up_",
		"vote_up_abc",
		"vote_down_-3",
		"v1:!!!",
		"v1:AAAA",
	} {
		_, err := DecodeAction(in)
		assert.ErrorIs(t, err, ErrUnknownAction, in)
	}
}

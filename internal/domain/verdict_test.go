package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		in   string
		want GateVerdict
	}{
		{"PASS", VerdictPass},
		{"FAIL", VerdictFail},
		{"NEEDS_HUMAN", VerdictNeedsHuman},
		{"pass", VerdictPass},
		{"  fail \n", VerdictFail},
	}
	for _, tc := range cases {
		got, err := ParseVerdict(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestParseVerdictRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "MAYBE", "PASSED", "needs human"} {
		_, err := ParseVerdict(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.Is(err, ErrInvalidVerdict))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Classification
	}{
		{nil, ClassOther},
		{context.DeadlineExceeded, ClassTimeout},
		{errors.New("agent timed out after 300s"), ClassTimeout},
		{errors.New("signal: killed"), ClassCrash},
		{errors.New("exit status 2"), ClassCrash},
		{errors.New("open /etc/shadow: permission denied"), ClassPermission},
		{errors.New("write /tmp/x: no space left on device"), ClassResource},
		{errors.New("malformed verdict payload"), ClassValidation},
		{errors.New("something odd happened"), ClassOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "error %v", tc.err)
	}
}

func TestClassifyWrappedDeadline(t *testing.T) {
	err := fmt.Errorf("running gatekeeper: %w", context.DeadlineExceeded)
	assert.Equal(t, ClassTimeout, Classify(err))
}

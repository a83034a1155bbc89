// SPDX-License-Identifier: MIT

package ffmpegio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameRateFraction(t *testing.T) {
	fps, err := parseFrameRate("30000/1001")
	require.NoError(t, err)
	assert.InDelta(t, 29.97, fps, 0.01)
}

func TestParseFrameRateWholeNumber(t *testing.T) {
	fps, err := parseFrameRate("25")
	require.NoError(t, err)
	assert.Equal(t, 25.0, fps)
}

func TestParseFrameRateIntegerFraction(t *testing.T) {
	fps, err := parseFrameRate("30/1")
	require.NoError(t, err)
	assert.Equal(t, 30.0, fps)
}

func TestParseFrameRateEmptyIsError(t *testing.T) {
	_, err := parseFrameRate("")
	assert.Error(t, err)
}

func TestParseFrameRateZeroDenominatorIsError(t *testing.T) {
	_, err := parseFrameRate("30/0")
	assert.Error(t, err)
}

func TestParseFrameRateGarbageIsError(t *testing.T) {
	_, err := parseFrameRate("not-a-number")
	assert.Error(t, err)
}

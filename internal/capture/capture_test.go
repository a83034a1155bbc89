// SPDX-License-Identifier: MIT

package capture

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageToVideoFrameConvertsDimensionsAndPixels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.Set(1, 0, color.NRGBA{R: 40, G: 50, B: 60, A: 255})

	v := imageToVideoFrame(img)

	assert.Equal(t, 2, v.Width)
	assert.Equal(t, 2, v.Height)
	assert.Equal(t, 3, v.Channels)
	assert.Equal(t, byte(10), v.Bytes[0])
	assert.Equal(t, byte(20), v.Bytes[1])
	assert.Equal(t, byte(30), v.Bytes[2])
	assert.Equal(t, byte(40), v.Bytes[3])
}

func TestEnumerateDevicesNeverPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = EnumerateDevices()
	})
}

package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

const iconSize = 32

// stateColors tints the microphone dot per state
var stateColors = map[State]color.NRGBA{
	StateOff:       {0x9e, 0x9e, 0x9e, 0xff},
	StateListening: {0xe3, 0xe3, 0xe3, 0xff},
	StateRecording: {0xf1, 0x9e, 0x39, 0xff},
	StatePlaying:   {0x75, 0xfb, 0x4c, 0xff},
}

// stateIcons renders one PNG per state
func stateIcons() map[State][]byte {
	icons := make(map[State][]byte, len(stateColors))
	for state, c := range stateColors {
		icons[state] = dotIcon(c, state == StateOff)
	}
	return icons
}

// dotIcon draws a filled circle, or a ring when hollow
func dotIcon(c color.NRGBA, hollow bool) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	center := float64(iconSize-1) / 2
	outer := float64(iconSize)/2 - 2
	inner := outer - 4

	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			d := dx*dx + dy*dy
			if d > outer*outer {
				continue
			}
			if hollow && d < inner*inner {
				continue
			}
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	// Encoding an in-memory NRGBA image cannot fail
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

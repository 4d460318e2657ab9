package camera

import (
	"fmt"
	"image"
)

// yuyvToYCbCr converts a packed YUYV 4:2:2 buffer into a planar image.
// Every 4 bytes carry two luma samples sharing one Cb and one Cr sample.
func yuyvToYCbCr(buf []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("invalid YUYV dimensions %dx%d", width, height)
	}
	if len(buf) < width*height*2 {
		return nil, fmt.Errorf("short YUYV buffer: got %d bytes, want %d", len(buf), width*height*2)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := buf[y*width*2 : (y+1)*width*2]
		yOff := y * img.YStride
		cOff := y * img.CStride
		for x := 0; x < width/2; x++ {
			p := row[x*4 : x*4+4]
			img.Y[yOff+x*2] = p[0]
			img.Cb[cOff+x] = p[1]
			img.Y[yOff+x*2+1] = p[2]
			img.Cr[cOff+x] = p[3]
		}
	}
	return img, nil
}

package imaging

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

const (
	sgiMagic      = 474
	sgiHeaderSize = 512
)

// ErrSGIFormat is returned for SGI data with a bad magic, an unsupported
// storage or channel layout, or RLE tables pointing outside the file.
var ErrSGIFormat = errors.New("sgi: invalid image")

func init() {
	image.RegisterFormat("sgi", "\x01\xda", DecodeSGI, DecodeSGIConfig)
}

type sgiHeader struct {
	rle      bool
	bpc      int
	width    int
	height   int
	channels int
}

func readSGIHeader(r io.Reader) (sgiHeader, error) {
	var raw [sgiHeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return sgiHeader{}, fmt.Errorf("sgi: header: %w", err)
	}
	be := binary.BigEndian
	if be.Uint16(raw[0:2]) != sgiMagic {
		return sgiHeader{}, fmt.Errorf("%w: bad magic", ErrSGIFormat)
	}
	h := sgiHeader{
		rle:      raw[2] == 1,
		bpc:      int(raw[3]),
		width:    int(be.Uint16(raw[6:8])),
		height:   int(be.Uint16(raw[8:10])),
		channels: int(be.Uint16(raw[10:12])),
	}
	dimension := be.Uint16(raw[4:6])
	if dimension < 3 {
		h.channels = 1
	}
	if dimension == 1 {
		h.height = 1
	}
	if h.bpc != 1 && h.bpc != 2 {
		return sgiHeader{}, fmt.Errorf("%w: %d bytes per channel", ErrSGIFormat, h.bpc)
	}
	if h.width == 0 || h.height == 0 || h.channels == 0 || h.channels > 4 {
		return sgiHeader{}, fmt.Errorf("%w: %dx%dx%d", ErrSGIFormat, h.width, h.height, h.channels)
	}
	return h, nil
}

// DecodeSGIConfig returns the dimensions and colour model of an SGI image.
func DecodeSGIConfig(r io.Reader) (image.Config, error) {
	h, err := readSGIHeader(r)
	if err != nil {
		return image.Config{}, err
	}
	model := color.NRGBAModel
	if h.channels == 1 {
		model = color.GrayModel
	}
	return image.Config{ColorModel: model, Width: h.width, Height: h.height}, nil
}

// DecodeSGI decodes an SGI (.rgb, .rgba, .bw) image, verbatim or RLE.
// Single channel images decode to *image.Gray, everything else to *image.NRGBA.
func DecodeSGI(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	h, err := readSGIHeader(br)
	if err != nil {
		return nil, err
	}

	// planes[c][row*width+x], rows stored bottom-up.
	planes := make([][]uint8, h.channels)
	if h.rle {
		rest, err := io.ReadAll(br)
		if err != nil {
			return nil, fmt.Errorf("sgi: %w", err)
		}
		if err := decodeSGIRLE(h, rest, planes); err != nil {
			return nil, err
		}
	} else {
		buf := make([]byte, h.width*h.bpc)
		for c := range planes {
			planes[c] = make([]uint8, h.width*h.height)
			for y := 0; y < h.height; y++ {
				if _, err := io.ReadFull(br, buf); err != nil {
					return nil, fmt.Errorf("sgi: channel %d row %d: %w", c, y, err)
				}
				row := planes[c][y*h.width : (y+1)*h.width]
				for x := range row {
					// 16-bit channels keep their high byte
					row[x] = buf[x*h.bpc]
				}
			}
		}
	}

	if h.channels == 1 {
		img := image.NewGray(image.Rect(0, 0, h.width, h.height))
		for y := 0; y < h.height; y++ {
			copy(img.Pix[(h.height-1-y)*img.Stride:], planes[0][y*h.width:(y+1)*h.width])
		}
		return img, nil
	}

	img := image.NewNRGBA(image.Rect(0, 0, h.width, h.height))
	for y := 0; y < h.height; y++ {
		dst := img.Pix[(h.height-1-y)*img.Stride:]
		for x := 0; x < h.width; x++ {
			i := y*h.width + x
			px := dst[x*4 : x*4+4]
			switch h.channels {
			case 2:
				px[0], px[1], px[2], px[3] = planes[0][i], planes[0][i], planes[0][i], planes[1][i]
			case 3:
				px[0], px[1], px[2], px[3] = planes[0][i], planes[1][i], planes[2][i], 0xFF
			default:
				px[0], px[1], px[2], px[3] = planes[0][i], planes[1][i], planes[2][i], planes[3][i]
			}
		}
	}
	return img, nil
}

// decodeSGIRLE expands RLE rows. data starts right after the 512-byte header;
// row offsets in the tables are absolute file offsets.
func decodeSGIRLE(h sgiHeader, data []byte, planes [][]uint8) error {
	rows := h.height * h.channels
	tables := rows * 8
	if len(data) < tables {
		return fmt.Errorf("%w: short RLE tables", ErrSGIFormat)
	}
	be := binary.BigEndian
	for c := range planes {
		planes[c] = make([]uint8, h.width*h.height)
	}
	for c := 0; c < h.channels; c++ {
		for y := 0; y < h.height; y++ {
			idx := y + c*h.height
			start := int(be.Uint32(data[idx*4:])) - sgiHeaderSize
			length := int(be.Uint32(data[rows*4+idx*4:]))
			if start < 0 || length < 0 || start+length > len(data) {
				return fmt.Errorf("%w: RLE row %d out of range", ErrSGIFormat, idx)
			}
			if err := expandSGIRow(data[start:start+length], h.bpc, planes[c][y*h.width:(y+1)*h.width]); err != nil {
				return fmt.Errorf("row %d: %w", idx, err)
			}
		}
	}
	return nil
}

func expandSGIRow(src []byte, bpc int, dst []uint8) error {
	read := func() (int, bool) {
		if len(src) < bpc {
			return 0, false
		}
		v := int(src[0])
		if bpc == 2 {
			v = int(src[0])<<8 | int(src[1])
		}
		src = src[bpc:]
		return v, true
	}
	high := func(v int) uint8 {
		if bpc == 2 {
			return uint8(v >> 8)
		}
		return uint8(v)
	}

	x := 0
	for {
		code, ok := read()
		if !ok {
			return fmt.Errorf("%w: truncated RLE row", ErrSGIFormat)
		}
		count := code & 0x7F
		if count == 0 {
			return nil
		}
		if x+count > len(dst) {
			return fmt.Errorf("%w: RLE row overflows width", ErrSGIFormat)
		}
		if code&0x80 != 0 {
			for i := 0; i < count; i++ {
				v, ok := read()
				if !ok {
					return fmt.Errorf("%w: truncated RLE literal", ErrSGIFormat)
				}
				dst[x] = high(v)
				x++
			}
			continue
		}
		v, ok := read()
		if !ok {
			return fmt.Errorf("%w: truncated RLE run", ErrSGIFormat)
		}
		for i := 0; i < count; i++ {
			dst[x] = high(v)
			x++
		}
	}
}

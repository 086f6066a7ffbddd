package raster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ErrFormat is wrapped by every decode error caused by malformed input.
var ErrFormat = errors.New("malformed PPM data")

// MaxValue is the only channel maximum the codec accepts.
const MaxValue = 255

// Decode reads a binary PPM (P6) image.
//
// Header tokens (magic, width, height, maxval) may be separated by any
// whitespace and interleaved with '#' comments. Exactly one whitespace byte
// separates maxval from the pixel data.
func Decode(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)

	magic, err := readToken(br)
	if err != nil {
		return nil, fmt.Errorf("%w: reading magic number: %v", ErrFormat, err)
	}
	if magic != "P6" {
		return nil, fmt.Errorf("%w: unsupported magic number %q (only P6 supported)", ErrFormat, magic)
	}

	width, err := readInt(br, "width")
	if err != nil {
		return nil, err
	}
	height, err := readInt(br, "height")
	if err != nil {
		return nil, err
	}
	maxval, err := readInt(br, "max value")
	if err != nil {
		return nil, err
	}
	if maxval != MaxValue {
		return nil, fmt.Errorf("%w: unsupported max value %d (only %d supported)", ErrFormat, maxval, MaxValue)
	}

	img, err := New(width, height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	if _, err := io.ReadFull(br, img.Pix); err != nil {
		return nil, fmt.Errorf("%w: reading %d bytes of pixel data: %v", ErrFormat, len(img.Pix), err)
	}

	return img, nil
}

// Encode writes img as a binary PPM (P6) image.
func Encode(w io.Writer, img *Image) error {
	if err := img.Validate(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "P6\n%d %d\n%d\n", img.Width, img.Height, MaxValue); err != nil {
		return fmt.Errorf("failed to write PPM header: %w", err)
	}
	if _, err := bw.Write(img.Pix); err != nil {
		return fmt.Errorf("failed to write pixel data: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush PPM output: %w", err)
	}

	return nil
}

// ReadFile opens and decodes a PPM file.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// WriteFile encodes img to path, replacing any existing file.
func WriteFile(path string, img *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output image: %w", err)
	}

	if err := Encode(f, img); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output image: %w", err)
	}
	return nil
}

func readInt(br *bufio.Reader, field string) (int, error) {
	tok, err := readToken(br)
	if err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrFormat, field, err)
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrFormat, field, tok)
	}
	return n, nil
}

// readToken skips whitespace and comments, then returns the next
// whitespace-delimited token. The single delimiter after the token is consumed.
func readToken(br *bufio.Reader) (string, error) {
	var tok []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			if err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}

		switch {
		case b == '#' && len(tok) == 0:
			if _, err := br.ReadBytes('\n'); err != nil {
				return "", io.ErrUnexpectedEOF
			}
		case isSpace(b):
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, b)
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

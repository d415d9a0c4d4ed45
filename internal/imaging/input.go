package imaging

import (
	"errors"
	"fmt"
	"image"
	"os"
)

// ErrUnsupportedInput is matched by every UnsupportedInputError.
var ErrUnsupportedInput = errors.New("unsupported image input")

// UnsupportedInputError reports an input variant or payload that cannot be
// turned into a decoded image.
type UnsupportedInputError struct {
	Variant string
	Reason  string
}

func (e *UnsupportedInputError) Error() string {
	return fmt.Sprintf("unsupported image input (%s): %s", e.Variant, e.Reason)
}

func (e *UnsupportedInputError) Is(target error) bool {
	return target == ErrUnsupportedInput
}

// Input is an image supplied by path, as encoded bytes, or already decoded.
// The set of variants is closed: FileInput, BytesInput and DecodedInput.
type Input interface {
	normalize() (image.Image, error)
}

// FileInput is an encoded image on local disk.
type FileInput struct {
	Path string
}

// BytesInput is an encoded image held in memory.
type BytesInput struct {
	Data []byte
}

// DecodedInput is an image that has already been decoded.
type DecodedInput struct {
	Image image.Image
}

// Normalize converts any Input into a decoded image with its EXIF
// orientation applied. Unknown or empty inputs yield an
// *UnsupportedInputError.
func Normalize(in Input) (image.Image, error) {
	if in == nil {
		return nil, &UnsupportedInputError{Variant: "nil", Reason: "no input"}
	}
	return in.normalize()
}

func (in FileInput) normalize() (image.Image, error) {
	if in.Path == "" {
		return nil, &UnsupportedInputError{Variant: "file", Reason: "empty path"}
	}
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", in.Path, err)
	}
	return BytesInput{Data: data}.normalize()
}

func (in BytesInput) normalize() (image.Image, error) {
	if len(in.Data) == 0 {
		return nil, &UnsupportedInputError{Variant: "bytes", Reason: "empty payload"}
	}
	img, _, err := Decode(in.Data)
	if err != nil {
		return nil, err
	}
	return ApplyOrientation(img, Orientation(in.Data)), nil
}

func (in DecodedInput) normalize() (image.Image, error) {
	if in.Image == nil {
		return nil, &UnsupportedInputError{Variant: "decoded", Reason: "nil image"}
	}
	return in.Image, nil
}

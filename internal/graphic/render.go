package graphic

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/conneroisu/msssg/internal/errors"
)

// Render decodes data, scales it to width and encodes it with codec.
// Images are never upscaled: a width beyond the native width fails with
// RESOLUTION_EXCEEDED.
func Render(ctx context.Context, data []byte, width int, param Param, codec Codec) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.NewRenderError(errors.ErrCodeDecodeFailed, "decode source image").
			WithContext("cause", err.Error())
	}

	bounds := img.Bounds()
	native := bounds.Dx()
	if width > native {
		return nil, errors.NewRenderError(errors.ErrCodeResolutionExceeded,
			fmt.Sprintf("width %d exceeds source width %d", width, native)).
			WithContext("width", width).
			WithContext("native", native)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}

	if width != native {
		height := int(math.Round(float64(width) * float64(bounds.Dy()) / float64(native)))
		if height < 1 {
			height = 1
		}
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	out, err := codec.Encode(ctx, img, param)
	if err != nil {
		if errors.IsCancellation(err) || errors.IsConfigError(err) {
			return nil, err
		}

		return nil, &errors.BuildError{
			Type:    errors.ErrorTypeRender,
			Code:    errors.ErrCodeEncodeFailed,
			Message: fmt.Sprintf("encode %s at width %d", codec.MediaType(), width),
			Cause:   err,
		}
	}

	return out, nil
}

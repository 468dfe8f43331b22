//go:build js && wasm

// Command blockfx-wasm exposes the pipeline to a browser page as the global
// blockfx object. Surfaces are CanvasRenderingContext2D values.
package main

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"syscall/js"

	"github.com/andresmejia3/blockfx/internal/blocks"
	"github.com/andresmejia3/blockfx/internal/detector"
	"github.com/andresmejia3/blockfx/internal/log"
	"github.com/andresmejia3/blockfx/internal/overlay"
	"github.com/andresmejia3/blockfx/internal/pipeline"
	"github.com/andresmejia3/blockfx/internal/pixel"
	"github.com/andresmejia3/blockfx/internal/surface"
	"github.com/andresmejia3/blockfx/internal/types"
	"golang.org/x/image/draw"
)

// canvasSurface reads and writes pixels through a 2D canvas context.
type canvasSurface struct {
	ctx js.Value
}

func (c canvasSurface) bounds() image.Rectangle {
	el := c.ctx.Get("canvas")
	return image.Rect(0, 0, el.Get("width").Int(), el.Get("height").Int())
}

func (c canvasSurface) check(x, y, width, height int) error {
	r := image.Rect(x, y, x+width, y+height)
	if width < 0 || height < 0 || !r.In(c.bounds()) {
		return fmt.Errorf("%w: %dx%d at (%d,%d)", surface.ErrOutOfBounds, width, height, x, y)
	}
	return nil
}

func (c canvasSurface) ReadPixels(x, y, width, height int) (buf []byte, err error) {
	if err := c.check(x, y, width, height); err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return []byte{}, nil
	}
	defer recoverJS(&err)

	data := c.ctx.Call("getImageData", x, y, width, height).Get("data")
	buf = make([]byte, data.Get("length").Int())
	js.CopyBytesToGo(buf, data)
	return buf, nil
}

func (c canvasSurface) WritePixels(buf []byte, width, height, x, y int) (err error) {
	if err := pixel.Validate(buf, width, height); err != nil {
		return err
	}
	if err := c.check(x, y, width, height); err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return nil
	}
	defer recoverJS(&err)

	arr := js.Global().Get("Uint8ClampedArray").New(len(buf))
	js.CopyBytesToJS(arr, buf)
	c.ctx.Call("putImageData", js.Global().Get("ImageData").New(arr, width, height), x, y)
	return nil
}

// recoverJS turns a thrown JS exception into an error.
func recoverJS(err *error) {
	if r := recover(); r != nil {
		if jsErr, ok := r.(js.Error); ok {
			*err = jsErr
			return
		}
		panic(r)
	}
}

// jsDetector calls a page-supplied function
// fn(pixels Uint8ClampedArray, width, height) -> [{score, landmarks: [{x, y, z}]}].
type jsDetector struct {
	mu sync.Mutex
	fn js.Value
}

var errNoDetectorFunc = errors.New("no detector registered, call blockfx.setDetector first")

func (d *jsDetector) set(fn js.Value) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
}

func (d *jsDetector) Detect(img image.Image) (results []types.DetectionResult, err error) {
	d.mu.Lock()
	fn := d.fn
	d.mu.Unlock()
	if fn.Type() != js.TypeFunction {
		return nil, errNoDetectorFunc
	}
	defer recoverJS(&err)

	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	buf := pixel.FromGrid(nrgba)
	arr := js.Global().Get("Uint8ClampedArray").New(len(buf))
	js.CopyBytesToJS(arr, buf)

	out := fn.Invoke(arr, b.Dx(), b.Dy())
	if out.IsNull() || out.IsUndefined() {
		return nil, nil
	}
	for i := 0; i < out.Length(); i++ {
		r := out.Index(i)
		res := types.DetectionResult{}
		if s := r.Get("score"); s.Type() == js.TypeNumber {
			res.Score = s.Float()
		}
		pts := r.Get("landmarks")
		for j := 0; pts.Type() == js.TypeObject && j < pts.Length(); j++ {
			p := pts.Index(j)
			res.Landmarks.Coords = append(res.Landmarks.Coords, types.Point{
				X: numberOr(p.Get("x")),
				Y: numberOr(p.Get("y")),
				Z: numberOr(p.Get("z")),
			})
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *jsDetector) Close() error { return nil }

func numberOr(v js.Value) float64 {
	if v.Type() != js.TypeNumber {
		return 0
	}
	return v.Float()
}

// kindArg accepts a blockfx.Transformation number or a name.
func kindArg(v js.Value) blocks.Kind {
	switch v.Type() {
	case js.TypeNumber:
		return blocks.KindFromSelector(v.Int())
	case js.TypeString:
		return blocks.ParseKind(v.String())
	default:
		return blocks.Identity
	}
}

func jsError(err error) js.Value {
	return js.Global().Get("Error").New(err.Error())
}

// surfaceOp adapts a pipeline call taking (src, dst, w, h, square, kind).
// It returns null on success and an Error value otherwise.
func surfaceOp(op func(src, dst surface.Surface, w, h, square int, kind blocks.Kind) error) js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) < 4 {
			return jsError(fmt.Errorf("%w: expected (src, dst, width, height, square, kind)", blocks.ErrInvalidConfig))
		}
		square := 1
		if len(args) > 4 && args[4].Type() == js.TypeNumber {
			square = args[4].Int()
		}
		kind := blocks.Identity
		if len(args) > 5 {
			kind = kindArg(args[5])
		}
		err := op(canvasSurface{args[0]}, canvasSurface{args[1]}, args[2].Int(), args[3].Int(), square, kind)
		if err != nil {
			log.Warn("blockfx call failed", "err", err)
			return jsError(err)
		}
		return js.Null()
	})
}

func main() {
	log.Init("info")

	det := &jsDetector{}
	p := pipeline.New(blocks.Engine{}, overlay.NewBridge(detector.NewHandle(det), nil))

	api := js.Global().Get("Object").New()
	api.Set("Transformation", map[string]any{"Pixelate": 0, "Greyscale": 1, "Unknown": 2})
	api.Set("transform", surfaceOp(p.Transform))
	api.Set("transformWithOverlay", surfaceOp(p.TransformWithOverlay))
	api.Set("normalizeBuffer", js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) < 1 {
			return js.Null()
		}
		in := make([]byte, args[0].Get("length").Int())
		js.CopyBytesToGo(in, args[0])
		out := pixel.Normalize(in)
		arr := js.Global().Get("Uint8Array").New(len(out))
		js.CopyBytesToJS(arr, out)
		return arr
	}))
	api.Set("setDetector", js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) > 0 {
			det.set(args[0])
		}
		return js.Null()
	}))
	js.Global().Set("blockfx", api)

	log.Info("blockfx ready")
	select {}
}

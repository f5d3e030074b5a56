// Command vlur blurs an image file with the GPU blur processor.
//
//	vlur -in photo.png -out blurred.png -radius 8
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/andewx/vlur"
	"github.com/andewx/vlur/gpu"
	"github.com/andewx/vlur/logging"
	_ "github.com/andewx/vlur/softgpu"
	"github.com/andewx/vlur/vkgpu"
)

func init() {
	// vulkan and glfw calls stay on the main thread
	runtime.LockOSThread()
}

type options struct {
	in, out    string
	radius     float64
	backend    string
	configPath string
	assets     string
	debug      bool
	id         int
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.in, "in", "", "input image (png, jpeg, gif, bmp, tiff, webp)")
	flag.StringVar(&o.out, "out", "blurred.png", "output PNG")
	flag.Float64Var(&o.radius, "radius", 4, "blur radius in pixels, 1 to 25")
	flag.StringVar(&o.backend, "backend", "", "backend, one of "+fmt.Sprint(gpu.Available()))
	flag.StringVar(&o.configPath, "config", "", "YAML configuration file")
	flag.StringVar(&o.assets, "assets", "", "directory holding the compiled shaders")
	flag.BoolVar(&o.debug, "debug", false, "enable validation layers and debug logging")
	flag.IntVar(&o.id, "id", 1, "slot id")
	flag.Parse()
	return o
}

func main() {
	o := parseFlags()
	if o.in == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(o); err != nil {
		color.Red("vlur: %v", err)
		os.Exit(1)
	}
}

func run(o options) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return errors.Wrap(err, "load .env")
	}
	cfg, err := vlur.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if o.assets != "" {
		cfg.AssetDir = o.assets
	}
	if o.debug {
		cfg.Debug = true
		cfg.Log.Level = "debug"
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	if cfg.Backend == gpu.BackendVulkan {
		defer vkgpu.Terminate()
	}

	src, err := imgio.Open(o.in)
	if err != nil {
		return errors.Wrapf(err, "open %s", o.in)
	}
	bm := gpu.BitmapFromImage(src)

	p, err := vlur.New(cfg, cfg.Assets(), vlur.WithLogger(log))
	if err != nil {
		return err
	}
	defer p.Close()

	start := time.Now()
	if err := p.Configure(bm, o.id); err != nil {
		return err
	}
	if err := p.Blur(float32(o.radius), o.id); err != nil {
		return err
	}
	elapsed := time.Since(start)

	out, err := p.Snapshot(o.id)
	if err != nil {
		return err
	}
	if err := imgio.Save(o.out, out, imgio.PNGEncoder()); err != nil {
		return errors.Wrapf(err, "save %s", o.out)
	}

	handle, _ := p.OutputHandle(o.id)
	log.Debug("done", zap.Uint64("handle", uint64(handle)), zap.Duration("elapsed", elapsed))
	color.Green("%s: %dx%d blurred with radius %g on %s in %v",
		o.out, bm.Width, bm.Height, o.radius, p.Context().Name(), elapsed.Round(time.Microsecond))
	return nil
}

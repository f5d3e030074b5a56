package vkgpu

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// newError turns a failed result into an error naming the calling function.
func newError(ret vk.Result) error {
	if !isError(ret) {
		return nil
	}
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		return errors.Errorf("vulkan error: %s (%d)", vk.Error(ret).Error(), ret)
	}
	return errors.Errorf("vulkan error: %s (%d) on %s", vk.Error(ret).Error(), ret, frame(pc, file, line))
}

func frame(pc uintptr, file string, line int) string {
	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = filepath.Base(fn.Name())
	}
	return fmt.Sprintf("%s (%s:%d)", name, filepath.Base(file), line)
}

// orPanic runs the finalizers and panics when err is set. Used inside
// functions guarded by checkErr.
func orPanic(err error, finalizers ...func()) {
	if err == nil {
		return
	}
	for _, fn := range finalizers {
		fn()
	}
	panic(err)
}

// checkErr recovers a panic raised by orPanic into *err.
func checkErr(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = e
			return
		}
		*err = errors.Errorf("%+v", v)
	}
}

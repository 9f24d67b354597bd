package view

import (
	"fmt"
	"image"
)

// Image is a 2D buffer with an optional device-side copy.
// The two sides are only reconciled by UpdateDeviceFromHost and UpdateHostFromDevice;
// reading one side after writing the other without a sync sees stale data.
type Image[T any] struct {
	size   image.Point
	host   []T
	device []T
}

// NewImage allocates a buffer. withDevice allocates the device side as well.
func NewImage[T any](size image.Point, withDevice bool) *Image[T] {
	img := &Image[T]{
		size: size,
		host: make([]T, size.X*size.Y),
	}
	if withDevice {
		img.device = make([]T, size.X*size.Y)
	}
	return img
}

func (img *Image[T]) Size() image.Point {
	return img.size
}

func (img *Image[T]) Width() int {
	return img.size.X
}

func (img *Image[T]) Height() int {
	return img.size.Y
}

// Host returns the host-side pixels, row-major.
func (img *Image[T]) Host() []T {
	return img.host
}

// HasDevice reports whether a device-side copy exists.
func (img *Image[T]) HasDevice() bool {
	return img.device != nil
}

// Device returns the device-side pixels. Without a device copy it is the host slice.
func (img *Image[T]) Device() []T {
	if img.device == nil {
		return img.host
	}
	return img.device
}

func (img *Image[T]) UpdateDeviceFromHost() {
	if img.device != nil {
		copy(img.device, img.host)
	}
}

func (img *Image[T]) UpdateHostFromDevice() {
	if img.device != nil {
		copy(img.host, img.device)
	}
}

// At reads a host pixel.
func (img *Image[T]) At(x, y int) T {
	return img.host[y*img.size.X+x]
}

// Set writes a host pixel.
func (img *Image[T]) Set(x, y int, v T) {
	img.host[y*img.size.X+x] = v
}

// In reports whether x,y is inside the image.
func (img *Image[T]) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < img.size.X && y < img.size.Y
}

// Clear zeroes the host side.
func (img *Image[T]) Clear() {
	var zero T
	for i := range img.host {
		img.host[i] = zero
	}
}

// SetFrom copies the host pixels of other, which must be the same size.
func (img *Image[T]) SetFrom(other *Image[T]) error {
	if other.size != img.size {
		return fmt.Errorf("image size mismatch %v vs %v", img.size, other.size)
	}
	copy(img.host, other.host)
	return nil
}

// Clone deep copies both sides.
func (img *Image[T]) Clone() *Image[T] {
	out := &Image[T]{size: img.size, host: append([]T(nil), img.host...)}
	if img.device != nil {
		out.device = append([]T(nil), img.device...)
	}
	return out
}

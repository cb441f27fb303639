//go:build !cgo

package capture

import "fmt"

func newOpusEncoder(cfg Config) (StreamEncoder, error) {
	return nil, fmt.Errorf("%w: opus requires cgo", ErrUnsupported)
}

//go:build !windows

package socket

func startup() error {
	return nil
}

func cleanup() error {
	return nil
}

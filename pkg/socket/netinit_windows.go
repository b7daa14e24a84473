//go:build windows

package socket

import "golang.org/x/sys/windows"

const winsockVersion = 0x0202

func startup() error {
	var data windows.WSAData
	return windows.WSAStartup(winsockVersion, &data)
}

func cleanup() error {
	return windows.WSACleanup()
}

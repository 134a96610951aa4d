package protocol

import qrcode "github.com/skip2/go-qrcode"

// QRCode renders a connection profile URI as a PNG for clients that import
// configs by camera.
func QRCode(uri string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(uri, qrcode.Medium, size)
}

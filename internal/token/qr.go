package token

import qrcode "github.com/skip2/go-qrcode"

// QRPNG renders the check-in URL as a PNG of the given pixel size.
func QRPNG(url string, size int) ([]byte, error) {
	if size <= 0 {
		size = 300
	}
	return qrcode.Encode(url, qrcode.Medium, size)
}

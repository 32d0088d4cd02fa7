package payment

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

// QRDataURL encodes content as a PNG QR code and returns it as a data URL
// the kiosk can put straight into an <img> tag.
func QRDataURL(content string, size int) (string, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

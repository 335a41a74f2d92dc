package relay

import (
	"github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

func GenerateQRCode(webhookURL string, size int) ([]byte, error) {
	if size == 0 {
		size = defaultQRSize
	}
	if size < 128 || size > 1024 {
		return nil, configError("invalid size: must be between 128 and 1024")
	}

	qr, err := qrcode.New(webhookURL, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return qr.PNG(size)
}

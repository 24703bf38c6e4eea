package airsync

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"airsync/internal/netutil"
)

// PairingURI builds the airsync:// URI the mobile peer scans to bootstrap
// the shared key. Withheld in no-encrypt mode: there is no key to hand out.
func (s *Server) PairingURI() (string, error) {
	if s.cfg.NoEncrypt {
		return "", ErrEncryptionDisabled
	}
	return fmt.Sprintf("airsync://%s:%d?key=%s", netutil.LocalIP(), s.port(), s.cipher.KeyBase64()), nil
}

// PairingQRPNG renders the pairing URI as PNG bytes for embedding in a host
// UI.
func (s *Server) PairingQRPNG(size int) ([]byte, error) {
	uri, err := s.PairingURI()
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("airsync: render pairing QR: %w", err)
	}
	return png, nil
}

// PairingQRText renders the pairing URI as terminal block art.
func (s *Server) PairingQRText() (string, error) {
	uri, err := s.PairingURI()
	if err != nil {
		return "", err
	}
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("airsync: render pairing QR: %w", err)
	}
	return qr.ToSmallString(false), nil
}

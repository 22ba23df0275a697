package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// TrackingToken derives the open-tracking token for an enrollment. The
// token is checked on the pixel endpoint so crawlers can't forge open
// signals by guessing enrollment IDs.
func TrackingToken(secret, enrollmentID string) string {
	hash := sha256.Sum256([]byte(secret + ":" + enrollmentID))
	return base64.URLEncoding.EncodeToString(hash[:])[:20]
}

// GenerateTrackingPixelURL builds the open-tracking pixel URL for an
// enrollment.
func GenerateTrackingPixelURL(baseURL, secret, enrollmentID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, enrollmentID, TrackingToken(secret, enrollmentID))
}

// InjectOpenTracking appends an invisible tracking pixel to email HTML.
func InjectOpenTracking(htmlContent, pixelURL string) string {
	pixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)
	return htmlContent + pixel
}

package torznab

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/IncSW/go-bencode"
)

var errMissingInfoDict = errors.New("missing info dictionary")

// ExtractInfoHashFromTorrent returns the lowercase hex SHA-1 of the
// re-encoded "info" dictionary of a .torrent payload.
func ExtractInfoHashFromTorrent(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", errors.New("empty torrent payload")
	}
	decoded, err := bencode.Unmarshal(payload)
	if err != nil {
		return "", fmt.Errorf("decode torrent: %w", err)
	}
	root, ok := decoded.(map[string]interface{})
	if !ok {
		return "", errors.New("invalid torrent: expected top-level dict")
	}
	info, ok := root["info"]
	if !ok {
		return "", errMissingInfoDict
	}
	if _, isDict := info.(map[string]interface{}); !isDict {
		return "", errMissingInfoDict
	}
	encoded, err := bencode.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encode info dictionary: %w", err)
	}
	sum := sha1.Sum(encoded)
	return hex.EncodeToString(sum[:]), nil
}

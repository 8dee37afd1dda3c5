// nolint: gochecknoglobals
package idgenerator

import gonanoid "github.com/matoous/go-nanoid/v2"

const (
	PartyIdLength   = 20
	MessageIdLength = 15
)

// alphabet used in ID generation.
var alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func PartyId() string {
	return gonanoid.MustGenerate(alphabet, PartyIdLength)
}

func MessageId() string {
	return gonanoid.MustGenerate(alphabet, MessageIdLength)
}

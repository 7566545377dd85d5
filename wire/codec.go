package wire

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
)

// Signature schemes accepted by NewCodec.
const (
	SchemeHMACSHA256 = "hmac-sha256"
	SchemeHMACSHA1   = "hmac-sha1"
	SchemeHMACSHA512 = "hmac-sha512"
)

// DefaultScheme is used when a codec or descriptor names no scheme.
const DefaultScheme = SchemeHMACSHA256

// delimiter separates routing identities from the signed message frames.
var delimiter = []byte("<IDS|MSG>")

var emptyObject = []byte("{}")

// Codec encodes and decodes messages to and from signed frame sets using a
// shared session key.
type Codec struct {
	key    []byte
	scheme string
	digest func() hash.Hash
	verify bool
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithoutVerification disables signature verification on decode, for
// traffic signed by an external participant whose frames should be accepted
// as-is. Encoding always signs.
func WithoutVerification() CodecOption {
	return func(c *Codec) { c.verify = false }
}

// NewCodec creates a codec for the given key and signature scheme. An empty
// scheme selects DefaultScheme.
func NewCodec(key []byte, scheme string, opts ...CodecOption) (*Codec, error) {
	if scheme == "" {
		scheme = DefaultScheme
	}

	digest, err := digestFor(scheme)
	if err != nil {
		return nil, err
	}

	c := &Codec{
		key:    key,
		scheme: scheme,
		digest: digest,
		verify: true,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Scheme returns the codec's signature scheme name.
func (c *Codec) Scheme() string {
	return c.scheme
}

// Sign computes the hex HMAC signature over the given frames in order.
func (c *Codec) Sign(frames ...[]byte) []byte {
	mac := hmac.New(c.digest, c.key)
	for _, frame := range frames {
		mac.Write(frame)
	}
	return []byte(hex.EncodeToString(mac.Sum(nil)))
}

// Encode serializes a message into its wire frame set: identity, delimiter,
// signature, header, parent header, metadata, content, then raw buffers.
func (c *Codec) Encode(msg *Message, identity []byte) ([][]byte, error) {
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}

	parent := emptyObject
	if !msg.ParentHeader.IsZero() {
		parent, err = json.Marshal(msg.ParentHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to encode parent header: %w", err)
		}
	}

	metadata := emptyObject
	if msg.Metadata != nil {
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	content := emptyObject
	if msg.Content != nil {
		content, err = json.Marshal(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to encode content: %w", err)
		}
	}

	signature := c.Sign(header, parent, metadata, content)

	frames := make([][]byte, 0, 7+len(msg.Buffers))
	frames = append(frames, identity, delimiter, signature, header, parent, metadata, content)
	frames = append(frames, msg.Buffers...)
	return frames, nil
}

// Decode reconstructs a message from a wire frame set, verifying the
// signature unless the codec was built with WithoutVerification. The
// message channel is not carried on the wire; callers stamp it from the
// receiving socket.
func (c *Codec) Decode(frames [][]byte) (*Message, error) {
	start := -1
	for i, frame := range frames {
		if bytes.Equal(frame, delimiter) {
			start = i
			break
		}
	}
	if start < 0 || len(frames) < start+6 {
		return nil, fmt.Errorf("%w: missing delimiter or signed frames", ErrBadFrame)
	}

	signature := frames[start+1]
	header := frames[start+2]
	parent := frames[start+3]
	metadata := frames[start+4]
	content := frames[start+5]

	if c.verify {
		expected := c.Sign(header, parent, metadata, content)
		if !hmac.Equal(expected, signature) {
			return nil, fmt.Errorf("%w: scheme %s", ErrBadSignature, c.scheme)
		}
	}

	msg := &Message{}
	if err := json.Unmarshal(header, &msg.Header); err != nil {
		return nil, fmt.Errorf("%w: bad header: %v", ErrBadFrame, err)
	}
	if err := json.Unmarshal(parent, &msg.ParentHeader); err != nil {
		return nil, fmt.Errorf("%w: bad parent header: %v", ErrBadFrame, err)
	}
	if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("%w: bad metadata: %v", ErrBadFrame, err)
	}
	if err := json.Unmarshal(content, &msg.Content); err != nil {
		return nil, fmt.Errorf("%w: bad content: %v", ErrBadFrame, err)
	}

	if extra := frames[start+6:]; len(extra) > 0 {
		msg.Buffers = make([][]byte, len(extra))
		copy(msg.Buffers, extra)
	}

	return msg, nil
}

func digestFor(scheme string) (func() hash.Hash, error) {
	switch scheme {
	case SchemeHMACSHA256:
		return sha256.New, nil
	case SchemeHMACSHA1:
		return sha1.New, nil
	case SchemeHMACSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
	}
}

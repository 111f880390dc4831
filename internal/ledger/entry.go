package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmerrifield20/kiosktrust/internal/envelope"
)

// GenesisHash is the link hash of the first entry in every chain.
const GenesisHash = "GENESIS"

// TimestampLayout is the fixed-precision UTC layout used when hashing.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Entry is a single immutable record in a chain.
type Entry struct {
	ChainKey    string       `json:"chain_key"`
	Seq         int64        `json:"seq"`
	Action      ActionKind   `json:"action"`
	Actor       ActorRef     `json:"actor"`
	Resource    *ResourceRef `json:"resource,omitempty"`
	Metadata    Metadata     `json:"metadata"`
	CreatedAt   time.Time    `json:"created_at"`
	LinkHash    string       `json:"link_hash"`
	ContentHash string       `json:"content_hash"`
}

// Receipt returns the citizen-facing receipt for the entry.
func (e *Entry) Receipt() string { return e.ContentHash }

func (e *Entry) clone() *Entry {
	c := *e
	if e.Resource != nil {
		r := *e.Resource
		c.Resource = &r
	}
	c.Metadata = append(Metadata(nil), e.Metadata...)
	return &c
}

// Field is one metadata pair.
type Field struct {
	Key   string
	Value string
}

// Metadata is an ordered list of key/value pairs. Order is significant for
// hashing and is preserved by both stores.
type Metadata []Field

// Meta builds Metadata from alternating keys and values. A trailing key
// without a value gets the empty string.
func Meta(kv ...string) Metadata {
	md := make(Metadata, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		f := Field{Key: kv[i]}
		if i+1 < len(kv) {
			f.Value = kv[i+1]
		}
		md = append(md, f)
	}
	return md
}

// Get returns the first value stored under key.
func (m Metadata) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (m Metadata) pairs() [][2]string {
	out := make([][2]string, len(m))
	for i, f := range m {
		out[i] = [2]string{f.Key, f.Value}
	}
	return out
}

// MarshalJSON encodes metadata as [[key, value], ...].
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.pairs())
}

// UnmarshalJSON decodes the [[key, value], ...] form.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	var pairs [][2]string
	if err := json.Unmarshal(b, &pairs); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	md := make(Metadata, len(pairs))
	for i, p := range pairs {
		md[i] = Field{Key: p[0], Value: p[1]}
	}
	*m = md
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// canonicalize renders the hashed fields of e as a JSON array in a fixed
// order. An absent actor id is null; the resource is a nested [type, id]
// pair or null, so a present resource never hashes like a missing one.
func canonicalize(e *Entry) []byte {
	var resource any
	if e.Resource != nil {
		resource = [2]string{e.Resource.Type, e.Resource.ID}
	}
	doc := []any{
		e.ChainKey,
		string(e.Action),
		string(e.Actor.Kind),
		nullable(e.Actor.ID),
		resource,
		e.Metadata.pairs(),
		e.CreatedAt.UTC().Format(TimestampLayout),
		e.LinkHash,
	}
	// Every element is a string, *string, [2]string or [][2]string; Marshal
	// cannot fail.
	b, _ := json.Marshal(doc)
	return b
}

// hashEntry computes the content hash of e.
func hashEntry(e *Entry) string {
	return envelope.Digest(canonicalize(e))
}

package feed

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/identity"
)

func TestDigestDataLayout(t *testing.T) {
	var topic Topic
	for i := range topic {
		topic[i] = 0xAA
	}
	var addr identity.Address
	for i := range addr {
		addr[i] = 0xBB
	}
	payload := []byte{1, 2, 3}

	buf := DigestData(7, topic, addr, Epoch{Time: 0x01020304, Level: 25}, payload)

	require.Len(t, buf, 68+len(payload))
	assert.Equal(t, byte(7), buf[0])
	assert.Equal(t, make([]byte, 7), buf[1:8])
	assert.Equal(t, topic[:], buf[8:40])
	assert.Equal(t, addr[:], buf[40:60])
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf[60:64])
	assert.Equal(t, []byte{0, 0, 0}, buf[64:67])
	assert.Equal(t, byte(25), buf[67])
	assert.Equal(t, payload, buf[68:])
}

func TestEpochCompare(t *testing.T) {
	a := Epoch{Time: 10, Level: 25}
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -1, a.Compare(Epoch{Time: 11, Level: 0}))
	assert.Equal(t, 1, a.Compare(Epoch{Time: 10, Level: 24}))

	e := NewEpoch(time.Unix(1700000000, 0))
	assert.Equal(t, Epoch{Time: 1700000000, Level: DefaultLevel}, e)
}

func TestSignAndVerify(t *testing.T) {
	owner, err := identity.Generate(rand.Reader)
	require.NoError(t, err)
	other, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	u := Update{
		Address: owner.Address,
		Topic:   ZeroTopic,
		Epoch:   Epoch{Time: 100, Level: DefaultLevel},
		Hash:    contenthash.Sum([]byte("chapter")),
	}

	signed, err := u.Sign(IdentitySigner(owner))
	require.NoError(t, err)
	require.NoError(t, signed.Verify())

	forged, err := u.Sign(IdentitySigner(other))
	require.NoError(t, err)
	assert.ErrorIs(t, forged.Verify(), ErrInvalidSignature)

	tampered := signed
	tampered.Hash = contenthash.Sum([]byte("something else"))
	assert.ErrorIs(t, tampered.Verify(), ErrInvalidSignature)

	tampered = signed
	tampered.Epoch.Time++
	assert.ErrorIs(t, tampered.Verify(), ErrInvalidSignature)
}

func TestTopicText(t *testing.T) {
	topic, err := TopicFromBytes(make([]byte, 32))
	require.NoError(t, err)
	assert.Equal(t, ZeroTopic, topic)

	text, err := topic.MarshalText()
	require.NoError(t, err)
	var back Topic
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, topic, back)

	_, err = ParseTopic("0x1234")
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

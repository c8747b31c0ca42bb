package grpcstore

import (
	"encoding/hex"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
)

// Struct field names for feed messages.
const (
	fieldAddress         = "address"
	fieldTopic           = "topic"
	fieldEpochTime       = "epochTime"
	fieldEpochLevel      = "epochLevel"
	fieldProtocolVersion = "protocolVersion"
	fieldHash            = "hash"
	fieldSignature       = "signature"
)

func feedKeyToStruct(address identity.Address, topic feed.Topic) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldAddress: structpb.NewStringValue(address.Hex()),
		fieldTopic:   structpb.NewStringValue(topic.Hex()),
	}}
}

func feedKeyFromStruct(s *structpb.Struct) (identity.Address, feed.Topic, error) {
	address, err := identity.ParseAddress(stringField(s, fieldAddress))
	if err != nil {
		return identity.Address{}, feed.Topic{}, err
	}
	topic, err := feed.ParseTopic(stringField(s, fieldTopic))
	if err != nil {
		return identity.Address{}, feed.Topic{}, err
	}
	return address, topic, nil
}

func updateToStruct(u feed.Update) *structpb.Struct {
	s := feedKeyToStruct(u.Address, u.Topic)
	s.Fields[fieldEpochTime] = structpb.NewNumberValue(float64(u.Epoch.Time))
	s.Fields[fieldEpochLevel] = structpb.NewNumberValue(float64(u.Epoch.Level))
	s.Fields[fieldProtocolVersion] = structpb.NewNumberValue(float64(u.ProtocolVersion))
	s.Fields[fieldHash] = structpb.NewStringValue(u.Hash.String())
	s.Fields[fieldSignature] = structpb.NewStringValue(hex.EncodeToString(u.Signature))
	return s
}

func updateFromStruct(s *structpb.Struct) (feed.Update, error) {
	address, topic, err := feedKeyFromStruct(s)
	if err != nil {
		return feed.Update{}, err
	}
	epochTime, err := uintField(s, fieldEpochTime, math.MaxUint32)
	if err != nil {
		return feed.Update{}, err
	}
	epochLevel, err := uintField(s, fieldEpochLevel, math.MaxUint8)
	if err != nil {
		return feed.Update{}, err
	}
	version, err := uintField(s, fieldProtocolVersion, math.MaxUint8)
	if err != nil {
		return feed.Update{}, err
	}
	h, err := contenthash.Parse(stringField(s, fieldHash))
	if err != nil {
		return feed.Update{}, fmt.Errorf("%w: %v", storage.ErrInvalidHash, err)
	}
	sig, err := hex.DecodeString(stringField(s, fieldSignature))
	if err != nil {
		return feed.Update{}, fmt.Errorf("grpcstore: signature: %w", err)
	}
	return feed.Update{
		Address:         address,
		Topic:           topic,
		Epoch:           feed.Epoch{Time: uint32(epochTime), Level: uint8(epochLevel)},
		ProtocolVersion: uint8(version),
		Hash:            h,
		Signature:       sig,
	}, nil
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func uintField(s *structpb.Struct, name string, max float64) (uint64, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("grpcstore: missing field %q", name)
	}
	n := v.GetNumberValue()
	if n < 0 || n > max || n != math.Trunc(n) {
		return 0, fmt.Errorf("grpcstore: field %q out of range: %v", name, n)
	}
	return uint64(n), nil
}

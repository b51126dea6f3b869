package ldapwire

import (
	"bytes"
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()

	encoded := Encode(msg)
	packet := ber.DecodePacket(encoded)
	got, err := Decode(packet)
	require.NoError(t, err)
	return got
}

func TestRoundTripBindRequest(t *testing.T) {
	msg := Message{
		MsgID: 1,
		Op: BindRequest{
			Version:  3,
			DN:       "cn=alice,dc=example,dc=com",
			Password: []byte("hunter2"),
		},
	}

	got := roundTrip(t, msg)

	require.Equal(t, int64(1), got.MsgID)
	br, ok := got.Op.(BindRequest)
	require.True(t, ok)
	assert.Equal(t, int64(3), br.Version)
	assert.Equal(t, "cn=alice,dc=example,dc=com", br.DN)
	assert.Equal(t, []byte("hunter2"), br.Password)
}

func TestRoundTripBindResponse(t *testing.T) {
	msg := Message{
		MsgID: 7,
		Op: BindResponse{
			Result: Result{Code: ResultOperationsError, Message: "unable to bind"},
		},
	}

	got := roundTrip(t, msg)
	resp, ok := got.Op.(BindResponse)
	require.True(t, ok)
	assert.Equal(t, ResultOperationsError, resp.Result.Code)
	assert.Equal(t, "unable to bind", resp.Result.Message)
	assert.Equal(t, int64(7), got.MsgID)
}

func TestRoundTripSearchRequestAndFilter(t *testing.T) {
	filter := FilterAnd{Filters: []Filter{
		FilterEqualityMatch{Attribute: "objectClass", Value: "person"},
		FilterPresent{Attribute: "uid"},
	}}

	msg := Message{
		MsgID: 2,
		Op: SearchRequest{
			BaseDN:       "dc=example,dc=com",
			Scope:        ScopeWholeSubtree,
			DerefAliases: NeverDerefAliases,
			SizeLimit:    0,
			TimeLimit:    0,
			TypesOnly:    false,
			Filter:       filter,
			Attributes:   []string{"uid", "cn"},
		},
		Controls: []Control{{Type: "1.2.3.4", Criticality: true}},
	}

	got := roundTrip(t, msg)
	sr, ok := got.Op.(SearchRequest)
	require.True(t, ok)
	assert.Equal(t, "dc=example,dc=com", sr.BaseDN)
	assert.Equal(t, ScopeWholeSubtree, sr.Scope)
	assert.Equal(t, []string{"uid", "cn"}, sr.Attributes)
	assert.Equal(t, filter.String(), sr.Filter.String())
	require.Len(t, got.Controls, 1)
	assert.Equal(t, "1.2.3.4", got.Controls[0].Type)
	assert.True(t, got.Controls[0].Criticality)
}

func TestRoundTripSearchResultEntryAndDone(t *testing.T) {
	entry := Message{
		MsgID: 9,
		Op: SearchResultEntry{
			DN: "uid=bob,dc=example,dc=com",
			Attributes: []EntryAttribute{
				{Name: "uid", Values: [][]byte{[]byte("bob")}},
			},
		},
	}

	got := roundTrip(t, entry)
	se, ok := got.Op.(SearchResultEntry)
	require.True(t, ok)
	assert.Equal(t, "uid=bob,dc=example,dc=com", se.DN)
	require.Len(t, se.Attributes, 1)
	assert.Equal(t, "uid", se.Attributes[0].Name)
	assert.Equal(t, [][]byte{[]byte("bob")}, se.Attributes[0].Values)

	done := Message{MsgID: 9, Op: SearchResultDone{Result: Result{Code: ResultSuccess}}}
	gotDone := roundTrip(t, done)
	sd, ok := gotDone.Op.(SearchResultDone)
	require.True(t, ok)
	assert.Equal(t, ResultSuccess, sd.Result.Code)
}

func TestRoundTripExtendedWhoAmI(t *testing.T) {
	msg := Message{
		MsgID: 4,
		Op:    ExtendedRequest{Name: WhoAmIOID},
	}

	got := roundTrip(t, msg)
	req, ok := got.Op.(ExtendedRequest)
	require.True(t, ok)
	assert.Equal(t, WhoAmIOID, req.Name)

	resp := Message{
		MsgID: 4,
		Op: ExtendedResponse{
			Result:   Result{Code: ResultSuccess},
			Value:    []byte("cn=alice,dc=example,dc=com"),
			HasValue: true,
		},
	}

	gotResp := roundTrip(t, resp)
	er, ok := gotResp.Op.(ExtendedResponse)
	require.True(t, ok)
	assert.Equal(t, []byte("cn=alice,dc=example,dc=com"), er.Value)
}

func TestFramedReaderRejectsOversizedFrame(t *testing.T) {
	msg := Message{MsgID: 1, Op: UnbindRequest{}}
	var buf bytes.Buffer
	buf.Write(Encode(msg))

	r := NewReader(&buf, 2)
	_, err := r.ReadMessage()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFramedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	msg := Message{MsgID: 42, Op: UnbindRequest{}}
	require.NoError(t, w.WriteMessage(msg))

	r := NewReader(&buf, 0)
	got, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.MsgID)
	_, ok := got.Op.(UnbindRequest)
	assert.True(t, ok)
}

func TestFilterStringPreservesTermOrder(t *testing.T) {
	a := FilterAnd{Filters: []Filter{
		FilterEqualityMatch{Attribute: "a", Value: "1"},
		FilterEqualityMatch{Attribute: "b", Value: "2"},
	}}
	b := FilterAnd{Filters: []Filter{
		FilterEqualityMatch{Attribute: "b", Value: "2"},
		FilterEqualityMatch{Attribute: "a", Value: "1"},
	}}

	assert.NotEqual(t, a.String(), b.String())
}

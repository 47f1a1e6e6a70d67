package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	tcases := []struct {
		err    error
		code   int
		public string
	}{
		{err: nil, code: http.StatusOK},
		{err: ErrUnauthenticated, code: http.StatusUnauthorized, public: "unauthenticated"},
		{err: ErrUnauthorized, code: http.StatusForbidden, public: "unauthorized"},
		{err: ErrRoomNotFound, code: http.StatusNotFound, public: "room not found"},
		{err: ErrTargetNotFound, code: http.StatusNotFound, public: "target not found"},
		{err: ErrRoomInactive, code: http.StatusGone, public: "room inactive"},
		{err: fmt.Errorf("%w: bad json", ErrInvalidPayload), code: http.StatusBadRequest, public: "invalid payload"},
		{err: fmt.Errorf("%w: dial tcp: refused", ErrPersistenceFailed), code: http.StatusInternalServerError, public: "persistence failed"},
		{err: ErrServiceUnavailable, code: http.StatusServiceUnavailable, public: "service unavailable"},
		{err: errors.New("something else"), code: http.StatusInternalServerError, public: "internal server error"},
	}

	for _, tc := range tcases {
		name := "nil"
		if tc.err != nil {
			name = tc.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.code, StatusCode(tc.err))
			if tc.err != nil {
				assert.Equal(t, tc.public, PublicError(tc.err), "expected store details to stay private")
			}
		})
	}
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: 200,
			Data:         "test data",
		},
	}

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","response":{"response_code":200,"data":"test data"}}`

	bytes, err := serializeMessage(message)
	require.NoError(t, err)
	assert.JSONEq(t, expected, string(bytes))
}

func Test_eventMessage(t *testing.T) {
	msg := eventMessage(EventMeetingEnded, Notice{RoomId: "R1", Reason: reasonMeetingEnd})

	bytes, err := serializeMessage(msg)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"timestamp":"`+msg.Timestamp.Format(time.RFC3339Nano)+`","event":"meeting-ended","data":{"room_id":"R1","reason":"`+reasonMeetingEnd+`"}}`,
		string(bytes),
	)
}

func TestErrorResponse(t *testing.T) {
	msg := ErrorResponse(4, fmt.Errorf("%w: pq: relation does not exist", ErrPersistenceFailed))

	assert.Equal(t, 4, msg.Id)
	require.NotNil(t, msg.Response)
	assert.Equal(t, http.StatusInternalServerError, msg.Response.ResponseCode)
	assert.Equal(t, "persistence failed", msg.Response.Error)
	assert.Nil(t, msg.Response.Data)
}

func Test_serializeMessage_SignalPayloadVerbatim(t *testing.T) {
	payload := json.RawMessage("{\"sdp\": \"v=0 a=<x>&y\",\n  \"type\": \"offer\"}")
	msg := eventMessage(EventSignalOffer, SignalForward{
		RoomId:   "R1",
		From:     "conn-a",
		Identity: 1,
		Target:   "conn-b",
		Payload:  payload,
	})

	b, err := serializeMessage(msg)
	require.NoError(t, err)

	assert.Contains(t, string(b), `"payload":`+string(payload), "expected payload bytes to be written as received")
	assert.True(t, json.Valid(b))

	var decoded struct {
		Event EventKind `json:"event"`
		Data  struct {
			From    string          `json:"from"`
			Target  string          `json:"target"`
			Payload json.RawMessage `json:"payload"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, EventSignalOffer, decoded.Event)
	assert.Equal(t, "conn-a", decoded.Data.From)
	assert.Equal(t, "conn-b", decoded.Data.Target)
	assert.Equal(t, string(payload), string(decoded.Data.Payload))
}

func Test_serializeMessage_SignalFieldsLookingLikePayload(t *testing.T) {
	payload := json.RawMessage(`{"candidate":"a"}`)
	msg := eventMessage(EventSignalIce, SignalForward{
		RoomId:  `"payload":null`,
		From:    "conn-a",
		Target:  "conn-b",
		Payload: payload,
	})

	b, err := serializeMessage(msg)
	require.NoError(t, err)

	var decoded struct {
		Data SignalForward `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, `"payload":null`, decoded.Data.RoomId)
	assert.Equal(t, string(payload), string(decoded.Data.Payload))
}

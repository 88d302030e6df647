package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/service"
)

type fakePredictor struct {
	requests []service.Request
	err      error
}

func (f *fakePredictor) Predict(ctx context.Context, req service.Request) (*service.Prediction, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	hours := req.WindowHours
	if hours == 0 {
		hours = 6
	}
	return &service.Prediction{
		ID:             "p",
		WindowHours:    hours,
		SequenceLength: len(req.Records),
	}, nil
}

func (f *fakePredictor) Explain(ctx context.Context, req service.Request) (*service.Explanation, error) {
	p, err := f.Predict(ctx, req)
	if err != nil {
		return nil, err
	}
	return &service.Explanation{Prediction: *p}, nil
}

func TestStreamSessionBuffersRecords(t *testing.T) {
	fake := &fakePredictor{}
	s := NewWebSocketHandler(fake, 3).newSession()
	ctx := context.Background()

	reply := s.handle(ctx, streamMessage{Type: "record", Record: features.Record{"hr": 0}, Window: 12})
	require.Equal(t, "prediction", reply.Type)
	assert.Equal(t, 1, reply.Buffered)
	assert.Equal(t, 12, reply.WindowHours)

	reply = s.handle(ctx, streamMessage{Type: "record", Record: features.Record{"hr": 1}})
	assert.Equal(t, 2, reply.Buffered)
	assert.Equal(t, 12, fake.requests[1].WindowHours, "window is sticky")
	assert.Equal(t, "stream", fake.requests[1].Source)

	for hr := 2; hr < 5; hr++ {
		reply = s.handle(ctx, streamMessage{Type: "record", Record: features.Record{"hr": hr}})
	}
	assert.Equal(t, 3, reply.Buffered)
	last := fake.requests[len(fake.requests)-1]
	require.Len(t, last.Records, 3)
	assert.Equal(t, 2, last.Records[0]["hr"], "oldest records are dropped")

	reply = s.handle(ctx, streamMessage{Type: "predict", Window: 24})
	assert.Equal(t, "prediction", reply.Type)
	assert.Equal(t, 24, reply.WindowHours)
	assert.Equal(t, 3, reply.Buffered)
}

func TestStreamSessionReset(t *testing.T) {
	fake := &fakePredictor{}
	s := NewWebSocketHandler(fake, 0).newSession()
	ctx := context.Background()

	s.handle(ctx, streamMessage{Type: "record", Record: features.Record{"hr": 0}, Window: 24})
	reply := s.handle(ctx, streamMessage{Type: "reset"})
	assert.Equal(t, "reset", reply.Type)
	assert.Equal(t, 0, reply.Buffered)
	assert.Empty(t, s.records)
	assert.Equal(t, 0, s.window)
}

func TestStreamSessionErrors(t *testing.T) {
	fake := &fakePredictor{err: features.ErrEmptySequence}
	s := NewWebSocketHandler(fake, 0).newSession()
	ctx := context.Background()

	reply := s.handle(ctx, streamMessage{Type: "predict"})
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "No patient records supplied", reply.Error)
	assert.Nil(t, reply.Prediction)

	reply = s.handle(ctx, streamMessage{Type: "record"})
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "record is required", reply.Error)

	reply = s.handle(ctx, streamMessage{Type: "query"})
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "unsupported message type", reply.Error)
}

func TestStreamReplyJSON(t *testing.T) {
	reply := streamReply{
		Type:     "prediction",
		Buffered: 2,
		Prediction: &service.Prediction{
			ID:          "abc",
			WindowHours: 6,
		},
	}

	data, err := json.Marshal(reply)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "prediction", out["type"])
	assert.Equal(t, "abc", out["id"])
	assert.EqualValues(t, 6, out["window_hours"])
	assert.NotContains(t, out, "error")

	data, err = json.Marshal(streamReply{Type: "reset"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"reset","buffered":0}`, string(data))
}

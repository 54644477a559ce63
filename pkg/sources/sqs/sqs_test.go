/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sqs

import (
	"context"
	"testing"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/numaflow/pkg/isb"
)

type fakeAPI struct {
	receive func(*awssqs.ReceiveMessageInput) (*awssqs.ReceiveMessageOutput, error)
	deleted []string
}

func (f *fakeAPI) ReceiveMessage(_ context.Context, params *awssqs.ReceiveMessageInput, _ ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	return f.receive(params)
}

func (f *fakeAPI) DeleteMessageBatch(_ context.Context, params *awssqs.DeleteMessageBatchInput, _ ...func(*awssqs.Options)) (*awssqs.DeleteMessageBatchOutput, error) {
	for _, e := range params.Entries {
		f.deleted = append(f.deleted, *e.ReceiptHandle)
	}
	return &awssqs.DeleteMessageBatchOutput{}, nil
}

func strPtr(s string) *string { return &s }

func TestSourceReadTracksReceiptHandles(t *testing.T) {
	api := &fakeAPI{
		receive: func(_ *awssqs.ReceiveMessageInput) (*awssqs.ReceiveMessageOutput, error) {
			return &awssqs.ReceiveMessageOutput{
				Messages: []types.Message{
					{MessageId: strPtr("m1"), ReceiptHandle: strPtr("r1"), Body: strPtr("hello")},
					{MessageId: strPtr("m2"), ReceiptHandle: strPtr("r2"), Body: strPtr("world")},
				},
			}, nil
		},
	}
	src := New("vtx", api, "queue-url", 0, nil)

	msgs, err := src.Read(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", string(msgs[0].Value))

	pending, err := src.Pending(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, *pending)

	offsets := []isb.Offset{msgs[0].Offset, msgs[1].Offset}
	require.NoError(t, src.Ack(context.Background(), offsets))

	pending, err = src.Pending(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, *pending)

	assert.ElementsMatch(t, []string{"r1", "r2"}, api.deleted)
}

func TestSourceReadCapsAtTen(t *testing.T) {
	var requested int32
	api := &fakeAPI{
		receive: func(in *awssqs.ReceiveMessageInput) (*awssqs.ReceiveMessageOutput, error) {
			requested = in.MaxNumberOfMessages
			return &awssqs.ReceiveMessageOutput{}, nil
		},
	}
	src := New("vtx", api, "queue-url", 0, nil)

	_, err := src.Read(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, int32(10), requested)
}

func TestPartitionsIsSingleton(t *testing.T) {
	src := New("vtx", &fakeAPI{}, "queue-url", 0, nil)
	parts, err := src.Partitions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint16{0}, parts)
}

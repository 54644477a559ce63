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

// Package sqs backs a vertex's source with an Amazon SQS queue using
// github.com/aws/aws-sdk-go-v2's sqs client. SQS has no partition
// concept, so this adapter always reports a single owned partition;
// un-acked messages are redelivered automatically once their
// visibility timeout expires.
package sqs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

const partitionIdx uint16 = 0

// API is the subset of the SQS client the Source depends on, letting
// tests substitute a fake without standing up a real queue.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// Source reads from a single SQS queue.
type Source struct {
	vertexName  string
	client      API
	queueURL    string
	waitSeconds int32

	mu      sync.Mutex
	pending map[string]string // offset string -> receipt handle

	log *zap.SugaredLogger
}

// New creates an SQS Source polling queueURL. waitSeconds enables
// long-polling (0-20, per the ReceiveMessage contract) so an empty
// queue doesn't busy-loop the forwarder.
func New(vertexName string, client API, queueURL string, waitSeconds int32, log *zap.SugaredLogger) *Source {
	if log == nil {
		log = logging.NewLogger()
	}
	return &Source{
		vertexName:  vertexName,
		client:      client,
		queueURL:    queueURL,
		waitSeconds: waitSeconds,
		pending:     make(map[string]string),
		log:         log,
	}
}

// NewFromEnv resolves credentials and region the standard AWS way
// (environment, shared config file, EC2/ECS role) and constructs a
// Source backed by a real SQS client.
func NewFromEnv(ctx context.Context, vertexName, queueURL string, waitSeconds int32, log *zap.SugaredLogger) (*Source, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return New(vertexName, sqs.NewFromConfig(cfg), queueURL, waitSeconds, log), nil
}

func (s *Source) Name() string { return "sqs" }

// Read issues one ReceiveMessage call capped at SQS's own 10-message
// limit per call and at count; callers asking for a larger batch get
// back fewer than requested, which the reader contract permits.
func (s *Source) Read(ctx context.Context, count int64) ([]isb.Message, error) {
	max := int32(count)
	if max > 10 {
		max = 10
	}
	if max < 1 {
		max = 1
	}

	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &s.queueURL,
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     s.waitSeconds,
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]isb.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, s.toMessage(m))
	}
	return msgs, nil
}

func (s *Source) toMessage(m types.Message) isb.Message {
	id := ""
	if m.MessageId != nil {
		id = *m.MessageId
	}
	offset := isb.NewStringOffset(id, partitionIdx)

	s.mu.Lock()
	if m.ReceiptHandle != nil {
		s.pending[offset.String()] = *m.ReceiptHandle
	}
	s.mu.Unlock()

	body := ""
	if m.Body != nil {
		body = *m.Body
	}

	return isb.Message{
		Kind:      isb.MessageKindData,
		Value:     []byte(body),
		Offset:    offset,
		EventTime: time.Now().UTC(),
		ID: isb.MessageID{
			VertexName: s.vertexName,
			Offset:     offset.String(),
			Index:      0,
		},
	}
}

// Ack deletes every acked offset's message from the queue in a single
// batch call, chunked to SQS's 10-entry DeleteMessageBatch limit.
func (s *Source) Ack(ctx context.Context, offsets []isb.Offset) error {
	entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(offsets))
	s.mu.Lock()
	for _, o := range offsets {
		key := o.String()
		handle, ok := s.pending[key]
		if !ok {
			continue
		}
		delete(s.pending, key)
		id := key
		h := handle
		entries = append(entries, types.DeleteMessageBatchRequestEntry{Id: &id, ReceiptHandle: &h})
	}
	s.mu.Unlock()

	for len(entries) > 0 {
		n := len(entries)
		if n > 10 {
			n = 10
		}
		chunk := entries[:n]
		entries = entries[n:]

		if _, err := s.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: &s.queueURL,
			Entries:  chunk,
		}); err != nil {
			s.log.Errorw("failed to delete sqs message batch", "error", err, "count", len(chunk))
			return err
		}
	}
	return nil
}

func (s *Source) Pending(_ context.Context) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.pending))
	return &n, nil
}

func (s *Source) Partitions(_ context.Context) ([]uint16, error) {
	return []uint16{partitionIdx}, nil
}

func (s *Source) Ready(_ context.Context) bool { return s.client != nil }

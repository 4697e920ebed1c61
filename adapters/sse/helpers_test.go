package sse_test

import (
	"io"
	"log"
	"sync"

	"hammer/adapters/sse"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// Message 表示一個 SSE 訊息，包含資料字段。
type Message struct {
	Data string `json:"data"`
}

// fakeSource 以記憶體channel模擬Hub的上游訊息來源
type fakeSource struct {
	ch        chan sse.Envelope[Message]
	closeOnce sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan sse.Envelope[Message], 16)}
}

func (s *fakeSource) Start() {}

func (s *fakeSource) Subscribe() <-chan sse.Envelope[Message] {
	return s.ch
}

func (s *fakeSource) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

func (s *fakeSource) emit(topic string, msg Message) {
	s.ch <- sse.Envelope[Message]{Topic: topic, Message: msg}
}

package bus

import (
	"context"
	"fmt"
	"io"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service
// The rig bus is a two-method gRPC service carrying well-known protobuf
// types, so neither side needs generated stubs.
const (
	serviceName  = "foraging.bus.v1.Rig"
	sendMethod   = "/" + serviceName + "/Send"
	eventsMethod = "/" + serviceName + "/Events"
)

// Stream names accepted by Events.
const (
	StreamPacket    = "packet"
	StreamIrregular = "irregular"
)

var eventsDesc = grpc.StreamDesc{StreamName: "Events", ServerStreams: true}

// #endregion service

// #region codec
func encode(m Message) (*structpb.Struct, error) {
	args := append([]any(nil), m.Args...)
	s, err := structpb.NewStruct(map[string]any{"tag": m.Tag, "args": args})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Tag, err)
	}
	return s, nil
}

func decode(s *structpb.Struct) (Message, error) {
	tag := s.GetFields()["tag"].GetStringValue()
	if tag == "" {
		return Message{}, fmt.Errorf("decode: message without tag")
	}
	m := Message{Tag: tag}
	for _, v := range s.GetFields()["args"].GetListValue().GetValues() {
		m.Args = append(m.Args, v.AsInterface())
	}
	return m, nil
}

func encodeList(msgs []Message) (*structpb.ListValue, error) {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(msgs))}
	for _, m := range msgs {
		s, err := encode(m)
		if err != nil {
			return nil, err
		}
		list.Values = append(list.Values, structpb.NewStructValue(s))
	}
	return list, nil
}

func decodeList(list *structpb.ListValue) ([]Message, error) {
	msgs := make([]Message, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		m, err := decode(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// MarshalMessages renders messages as the protojson form of their wire
// list, so a dump reads the same as what crossed the bus.
func MarshalMessages(msgs []Message) ([]byte, error) {
	list, err := encodeList(msgs)
	if err != nil {
		return nil, err
	}
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(list)
}

// UnmarshalMessages is the inverse of MarshalMessages.
func UnmarshalMessages(b []byte) ([]Message, error) {
	var list structpb.ListValue
	if err := protojson.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return decodeList(&list)
}

// #endregion codec

// #region client
// Client is the controller side of the rig bus.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// Dial connects to the rig bridge at addr.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn wraps an existing connection. Used for testing
// without a real gRPC server.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Send transmits msgs as one unary call.
func (c *Client) Send(ctx context.Context, msgs ...Message) error {
	list, err := encodeList(msgs)
	if err != nil {
		return err
	}
	if err := c.cc.Invoke(ctx, sendMethod, list, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("send rpc: %w", err)
	}
	return nil
}

// Subscribe opens the named event stream.
func (c *Client) Subscribe(ctx context.Context, name string) (*Stream, error) {
	sctx, cancel := context.WithCancel(ctx)
	cs, err := c.cc.NewStream(sctx, &eventsDesc, eventsMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("events rpc: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{"stream": name})
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cs.SendMsg(req); err != nil {
		cancel()
		return nil, fmt.Errorf("events rpc request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("events rpc close send: %w", err)
	}
	s := &Stream{name: name, msgs: make(chan Message, 256), cancel: cancel}
	go s.read(sctx, cs)
	return s, nil
}

// #endregion client

// #region stream
// Stream is a Source backed by a server-streaming call.
type Stream struct {
	name   string
	msgs   chan Message
	err    error
	cancel context.CancelFunc
}

func (s *Stream) read(ctx context.Context, cs grpc.ClientStream) {
	defer close(s.msgs)
	for {
		st := &structpb.Struct{}
		if err := cs.RecvMsg(st); err != nil {
			s.err = err
			return
		}
		m, err := decode(st)
		if err != nil {
			log.Printf("bus: %s stream: %v", s.name, err)
			continue
		}
		select {
		case s.msgs <- m:
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		}
	}
}

// Receive returns the next message or the error that ended the stream.
func (s *Stream) Receive(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-s.msgs:
		if !ok {
			if s.err == nil || s.err == io.EOF {
				return Message{}, io.EOF
			}
			return Message{}, fmt.Errorf("%s stream: %w", s.name, s.err)
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close ends the stream.
func (s *Stream) Close() { s.cancel() }

// #endregion stream

// #region server
// Rig is the rig side of the bus.
type Rig interface {
	Sink
	// Events forwards the named stream to send until ctx ends.
	Events(ctx context.Context, stream string, send func(Message) error) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Rig)(nil),
	Methods:     []grpc.MethodDesc{{MethodName: "Send", Handler: sendHandler}},
	Streams:     []grpc.StreamDesc{{StreamName: "Events", Handler: eventsHandler, ServerStreams: true}},
}

// Register installs rig on s.
func Register(s *grpc.Server, rig Rig) { s.RegisterService(&serviceDesc, rig) }

func sendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	list := &structpb.ListValue{}
	if err := dec(list); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		msgs, err := decodeList(req.(*structpb.ListValue))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if err := srv.(Rig).Send(ctx, msgs...); err != nil {
			return nil, err
		}
		return &emptypb.Empty{}, nil
	}
	if interceptor == nil {
		return handler(ctx, list)
	}
	return interceptor(ctx, list, &grpc.UnaryServerInfo{Server: srv, FullMethod: sendMethod}, handler)
}

func eventsHandler(srv any, stream grpc.ServerStream) error {
	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	name := req.GetFields()["stream"].GetStringValue()
	return srv.(Rig).Events(stream.Context(), name, func(m Message) error {
		st, err := encode(m)
		if err != nil {
			return err
		}
		return stream.SendMsg(st)
	})
}

// #endregion server

// #region adapter
// RigAdapter serves in-process sinks and sources as a Rig.
type RigAdapter struct {
	Commands Sink
	Streams  map[string]Source
}

func (r RigAdapter) Send(ctx context.Context, msgs ...Message) error {
	return r.Commands.Send(ctx, msgs...)
}

func (r RigAdapter) Events(ctx context.Context, name string, send func(Message) error) error {
	src, ok := r.Streams[name]
	if !ok {
		return status.Errorf(codes.NotFound, "unknown stream %q", name)
	}
	for {
		m, err := src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := send(m); err != nil {
			return err
		}
	}
}

// #endregion adapter

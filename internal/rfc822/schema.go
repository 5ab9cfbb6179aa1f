// Package rfc822 implements the wire contract of the remote delivery service:
// package rfc822, service Deliverer, one unary Deliver call (see
// proto/rfc822.proto). The descriptor is assembled at init and messages are
// carried as dynamicpb values, so no generated code is needed.
package rfc822

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	ServiceName       = "rfc822.Deliverer"
	DeliverFullMethod = "/rfc822.Deliverer/Deliver"
)

var (
	// File is the descriptor of rfc822.proto.
	File protoreflect.FileDescriptor

	requestDesc  protoreflect.MessageDescriptor
	responseDesc protoreflect.MessageDescriptor

	transactionIDField protoreflect.FieldDescriptor
	messageField       protoreflect.FieldDescriptor
)

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("rfc822.proto"),
		Package: proto.String("rfc822"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Rfc822Request"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:     proto.String("transactionid"),
						JsonName: proto.String("transactionid"),
						Number:   proto.Int32(1),
						Label:    optional,
						Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					},
					{
						Name:     proto.String("rfc822"),
						JsonName: proto.String("rfc822"),
						Number:   proto.Int32(2),
						Label:    optional,
						Type:     descriptorpb.FieldDescriptorProto_TYPE_BYTES.Enum(),
					},
				},
			},
			{Name: proto.String("Rfc822Response")},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("Deliverer"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("Deliver"),
						InputType:  proto.String(".rfc822.Rfc822Request"),
						OutputType: proto.String(".rfc822.Rfc822Response"),
					},
				},
			},
		},
	}
}

func init() {
	fd, err := protodesc.NewFile(fileDescriptorProto(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("rfc822: build descriptor: %v", err))
	}
	File = fd
	requestDesc = fd.Messages().ByName("Rfc822Request")
	responseDesc = fd.Messages().ByName("Rfc822Response")
	transactionIDField = requestDesc.Fields().ByName("transactionid")
	messageField = requestDesc.Fields().ByName("rfc822")
}

// Request is one message handed to the remote service.
type Request struct {
	TransactionID string
	RFC822        []byte
}

// Response is empty; success is carried by the call status alone.
type Response struct{}

// ProtoMessage returns r as a wire message.
func (r *Request) ProtoMessage() proto.Message {
	m := dynamicpb.NewMessage(requestDesc)
	if r.TransactionID != "" {
		m.Set(transactionIDField, protoreflect.ValueOfString(r.TransactionID))
	}
	if len(r.RFC822) > 0 {
		m.Set(messageField, protoreflect.ValueOfBytes(r.RFC822))
	}
	return m
}

func requestFromMessage(m protoreflect.Message) *Request {
	return &Request{
		TransactionID: m.Get(transactionIDField).String(),
		RFC822:        m.Get(messageField).Bytes(),
	}
}

// Marshal encodes r in protobuf wire format.
func (r *Request) Marshal() ([]byte, error) {
	return proto.Marshal(r.ProtoMessage())
}

// UnmarshalRequest decodes a wire-format Rfc822Request.
func UnmarshalRequest(b []byte) (*Request, error) {
	m := dynamicpb.NewMessage(requestDesc)
	if err := proto.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("unmarshal Rfc822Request: %w", err)
	}
	return requestFromMessage(m), nil
}

func newRequestMessage() *dynamicpb.Message {
	return dynamicpb.NewMessage(requestDesc)
}

func newResponseMessage() *dynamicpb.Message {
	return dynamicpb.NewMessage(responseDesc)
}

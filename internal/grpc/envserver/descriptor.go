package envserver

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoFile is the descriptor path reflection clients resolve the service through
const ProtoFile = "dentalscanner/env/v1/env.proto"

func init() {
	if err := registerServiceDescriptor(protoregistry.GlobalFiles); err != nil {
		panic(fmt.Sprintf("register %s: %v", ProtoFile, err))
	}
}

// serviceDescriptorProto describes EnvironmentService the way protoc would for
// a .proto whose every method takes and returns google.protobuf.Struct
func serviceDescriptorProto() *descriptorpb.FileDescriptorProto {
	structType := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())

	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(EnvironmentService_ServiceDesc.Methods))
	for _, m := range EnvironmentService_ServiceDesc.Methods {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.MethodName),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(ProtoFile),
		Package:    proto.String("dentalscanner.env.v1"),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Syntax:     proto.String("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/mitchelldurbincs/DentalScannerEnv/internal/grpc/envserver"),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("EnvironmentService"),
			Method: methods,
		}},
	}
}

func registerServiceDescriptor(files *protoregistry.Files) error {
	if _, err := files.FindFileByPath(ProtoFile); err == nil {
		return nil
	}
	fd, err := protodesc.NewFile(serviceDescriptorProto(), files)
	if err != nil {
		return err
	}
	return files.RegisterFile(fd)
}

package medgatev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "medgate.v1.MedGate"

// Method names.
const (
	MethodInitialize               = "Initialize"
	MethodIsInitialized            = "IsInitialized"
	MethodSetHealthCenterAllowlist = "SetHealthCenterAllowlist"
	MethodSetHealthCenterConsent   = "SetHealthCenterConsent"
	MethodSetDoctorConsent         = "SetDoctorConsent"
	MethodIsHealthCenterAuthorized = "IsHealthCenterAuthorized"
	MethodIsDoctorAuthorized       = "IsDoctorAuthorized"
	MethodAddRecord                = "AddRecord"
	MethodUpdateRecord             = "UpdateRecord"
	MethodGetRecord                = "GetRecord"
	MethodListPublicRecords        = "ListPublicRecords"
	MethodSetDataSharing           = "SetDataSharing"
	MethodGetDataSharing           = "GetDataSharing"
	MethodAddReview                = "AddReview"
	MethodGetReviews               = "GetReviews"
	MethodListEvents               = "ListEvents"
)

// FullMethod returns "/medgate.v1.MedGate/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// MedGateServer is the server API of the MedGate service.
type MedGateServer interface {
	Initialize(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	IsInitialized(context.Context, *IdentityRequest) (*wrapperspb.BoolValue, error)
	SetHealthCenterAllowlist(context.Context, *AllowlistRequest) (*emptypb.Empty, error)
	SetHealthCenterConsent(context.Context, *ConsentRequest) (*emptypb.Empty, error)
	SetDoctorConsent(context.Context, *ConsentRequest) (*emptypb.Empty, error)
	IsHealthCenterAuthorized(context.Context, *AuthorizationQuery) (*wrapperspb.BoolValue, error)
	IsDoctorAuthorized(context.Context, *AuthorizationQuery) (*wrapperspb.BoolValue, error)
	AddRecord(context.Context, *AddRecordRequest) (*Record, error)
	UpdateRecord(context.Context, *UpdateRecordRequest) (*Record, error)
	GetRecord(context.Context, *PatientRequest) (*SensitiveRecord, error)
	ListPublicRecords(context.Context, *emptypb.Empty) (*RecordList, error)
	SetDataSharing(context.Context, *DataSharingRequest) (*emptypb.Empty, error)
	GetDataSharing(context.Context, *PatientRequest) (*wrapperspb.BoolValue, error)
	AddReview(context.Context, *AddReviewRequest) (*Review, error)
	GetReviews(context.Context, *PatientRequest) (*ReviewList, error)
	ListEvents(context.Context, *ListEventsRequest) (*EventList, error)
}

func unary[Req, Resp any](name string, call func(MedGateServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(MedGateServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes the MedGate service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MedGateServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodInitialize, MedGateServer.Initialize),
		unary(MethodIsInitialized, MedGateServer.IsInitialized),
		unary(MethodSetHealthCenterAllowlist, MedGateServer.SetHealthCenterAllowlist),
		unary(MethodSetHealthCenterConsent, MedGateServer.SetHealthCenterConsent),
		unary(MethodSetDoctorConsent, MedGateServer.SetDoctorConsent),
		unary(MethodIsHealthCenterAuthorized, MedGateServer.IsHealthCenterAuthorized),
		unary(MethodIsDoctorAuthorized, MedGateServer.IsDoctorAuthorized),
		unary(MethodAddRecord, MedGateServer.AddRecord),
		unary(MethodUpdateRecord, MedGateServer.UpdateRecord),
		unary(MethodGetRecord, MedGateServer.GetRecord),
		unary(MethodListPublicRecords, MedGateServer.ListPublicRecords),
		unary(MethodSetDataSharing, MedGateServer.SetDataSharing),
		unary(MethodGetDataSharing, MedGateServer.GetDataSharing),
		unary(MethodAddReview, MedGateServer.AddReview),
		unary(MethodGetReviews, MedGateServer.GetReviews),
		unary(MethodListEvents, MedGateServer.ListEvents),
	},
	Metadata: "medgate/v1/medgate.go",
}

// RegisterMedGateServer registers srv on s.
func RegisterMedGateServer(s grpc.ServiceRegistrar, srv MedGateServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is a typed MedGate client. Every call uses the json codec.
type Client struct{ cc grpc.ClientConnInterface }

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Initialize(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodInitialize, &emptypb.Empty{}, opts)
	return err
}

func (c *Client) IsInitialized(ctx context.Context, in *IdentityRequest, opts ...grpc.CallOption) (bool, error) {
	out, err := invoke[wrapperspb.BoolValue](ctx, c.cc, MethodIsInitialized, in, opts)
	return out.GetValue(), err
}

func (c *Client) SetHealthCenterAllowlist(ctx context.Context, in *AllowlistRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodSetHealthCenterAllowlist, in, opts)
	return err
}

func (c *Client) SetHealthCenterConsent(ctx context.Context, in *ConsentRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodSetHealthCenterConsent, in, opts)
	return err
}

func (c *Client) SetDoctorConsent(ctx context.Context, in *ConsentRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodSetDoctorConsent, in, opts)
	return err
}

func (c *Client) IsHealthCenterAuthorized(ctx context.Context, in *AuthorizationQuery, opts ...grpc.CallOption) (bool, error) {
	out, err := invoke[wrapperspb.BoolValue](ctx, c.cc, MethodIsHealthCenterAuthorized, in, opts)
	return out.GetValue(), err
}

func (c *Client) IsDoctorAuthorized(ctx context.Context, in *AuthorizationQuery, opts ...grpc.CallOption) (bool, error) {
	out, err := invoke[wrapperspb.BoolValue](ctx, c.cc, MethodIsDoctorAuthorized, in, opts)
	return out.GetValue(), err
}

func (c *Client) AddRecord(ctx context.Context, in *AddRecordRequest, opts ...grpc.CallOption) (*Record, error) {
	return invoke[Record](ctx, c.cc, MethodAddRecord, in, opts)
}

func (c *Client) UpdateRecord(ctx context.Context, in *UpdateRecordRequest, opts ...grpc.CallOption) (*Record, error) {
	return invoke[Record](ctx, c.cc, MethodUpdateRecord, in, opts)
}

func (c *Client) GetRecord(ctx context.Context, in *PatientRequest, opts ...grpc.CallOption) (*SensitiveRecord, error) {
	return invoke[SensitiveRecord](ctx, c.cc, MethodGetRecord, in, opts)
}

func (c *Client) ListPublicRecords(ctx context.Context, opts ...grpc.CallOption) (*RecordList, error) {
	return invoke[RecordList](ctx, c.cc, MethodListPublicRecords, &emptypb.Empty{}, opts)
}

func (c *Client) SetDataSharing(ctx context.Context, in *DataSharingRequest, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, MethodSetDataSharing, in, opts)
	return err
}

func (c *Client) GetDataSharing(ctx context.Context, in *PatientRequest, opts ...grpc.CallOption) (bool, error) {
	out, err := invoke[wrapperspb.BoolValue](ctx, c.cc, MethodGetDataSharing, in, opts)
	return out.GetValue(), err
}

func (c *Client) AddReview(ctx context.Context, in *AddReviewRequest, opts ...grpc.CallOption) (*Review, error) {
	return invoke[Review](ctx, c.cc, MethodAddReview, in, opts)
}

func (c *Client) GetReviews(ctx context.Context, in *PatientRequest, opts ...grpc.CallOption) (*ReviewList, error) {
	return invoke[ReviewList](ctx, c.cc, MethodGetReviews, in, opts)
}

func (c *Client) ListEvents(ctx context.Context, in *ListEventsRequest, opts ...grpc.CallOption) (*EventList, error) {
	return invoke[EventList](ctx, c.cc, MethodListEvents, in, opts)
}

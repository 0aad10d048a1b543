// Package grpcserver exposes the MedGate gRPC API handlers.
package grpcserver

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	pb "github.com/and161185/medgate/api/medgate/v1"
	"github.com/and161185/medgate/internal/convert"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/service"
)

// Server wires the engine into gRPC handlers. The caller identity comes from
// AuthUnary; handlers never look at tokens.
type Server struct {
	svc service.Service
	log *zap.Logger
}

var _ pb.MedGateServer = (*Server)(nil)

// New constructs a gRPC server over svc.
func New(svc service.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log}
}

func caller(ctx context.Context) (model.Identity, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return model.NilIdentity, status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}

// fail converts err to a status, logging anything that maps to Internal.
func (s *Server) fail(err error) error {
	st := toStatus(err)
	if status.Code(st) == codes.Internal {
		s.log.Error("engine failure", zap.Error(err))
	}
	return st
}

// --- registry ---

// Initialize registers the caller as a patient.
func (s *Server) Initialize(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Initialize(ctx, id); err != nil {
		return nil, s.fail(err)
	}
	return &emptypb.Empty{}, nil
}

// IsInitialized reports whether the given identity is a patient.
func (s *Server) IsInitialized(ctx context.Context, req *pb.IdentityRequest) (*wrapperspb.BoolValue, error) {
	id, err := convert.Identity("id", req.ID)
	if err != nil {
		return nil, s.fail(err)
	}
	ok, err := s.svc.IsInitialized(ctx, id)
	if err != nil {
		return nil, s.fail(err)
	}
	return wrapperspb.Bool(ok), nil
}

// --- authorization ---

// SetHealthCenterAllowlist flips the owner approval of a center.
func (s *Server) SetHealthCenterAllowlist(ctx context.Context, req *pb.AllowlistRequest) (*emptypb.Empty, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	center, err := convert.Identity("center", req.Center)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.svc.SetHealthCenterAllowlist(ctx, id, center, req.Approved); err != nil {
		return nil, s.fail(err)
	}
	return &emptypb.Empty{}, nil
}

// SetHealthCenterConsent grants or revokes the caller's consent for a center.
func (s *Server) SetHealthCenterConsent(ctx context.Context, req *pb.ConsentRequest) (*emptypb.Empty, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	center, err := convert.Identity("subject", req.Subject)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.svc.SetHealthCenterConsent(ctx, id, center, req.Granted); err != nil {
		return nil, s.fail(err)
	}
	return &emptypb.Empty{}, nil
}

// SetDoctorConsent grants or revokes the caller's consent for a doctor.
func (s *Server) SetDoctorConsent(ctx context.Context, req *pb.ConsentRequest) (*emptypb.Empty, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	doctor, err := convert.Identity("subject", req.Subject)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.svc.SetDoctorConsent(ctx, id, doctor, req.Granted); err != nil {
		return nil, s.fail(err)
	}
	return &emptypb.Empty{}, nil
}

// IsHealthCenterAuthorized evaluates the dual gate.
func (s *Server) IsHealthCenterAuthorized(ctx context.Context, req *pb.AuthorizationQuery) (*wrapperspb.BoolValue, error) {
	patient, subject, err := queryIDs(req)
	if err != nil {
		return nil, s.fail(err)
	}
	ok, err := s.svc.IsHealthCenterAuthorized(ctx, patient, subject)
	if err != nil {
		return nil, s.fail(err)
	}
	return wrapperspb.Bool(ok), nil
}

// IsDoctorAuthorized evaluates the doctor consent bit.
func (s *Server) IsDoctorAuthorized(ctx context.Context, req *pb.AuthorizationQuery) (*wrapperspb.BoolValue, error) {
	patient, subject, err := queryIDs(req)
	if err != nil {
		return nil, s.fail(err)
	}
	ok, err := s.svc.IsDoctorAuthorized(ctx, patient, subject)
	if err != nil {
		return nil, s.fail(err)
	}
	return wrapperspb.Bool(ok), nil
}

func queryIDs(req *pb.AuthorizationQuery) (model.Identity, model.Identity, error) {
	patient, err := convert.Identity("patient", req.Patient)
	if err != nil {
		return model.NilIdentity, model.NilIdentity, err
	}
	subject, err := convert.Identity("subject", req.Subject)
	if err != nil {
		return model.NilIdentity, model.NilIdentity, err
	}
	return patient, subject, nil
}

// --- records ---

// AddRecord creates a patient's record.
func (s *Server) AddRecord(ctx context.Context, req *pb.AddRecordRequest) (*pb.Record, error) {
	id, patient, err := s.target(ctx, req.Patient)
	if err != nil {
		return nil, err
	}
	rec, err := s.svc.AddRecord(ctx, id, patient, convert.FromWireFields(req.Fields))
	if err != nil {
		return nil, s.fail(err)
	}
	return convert.ToWireRecord(*rec), nil
}

// UpdateRecord rewrites the mutable record fields.
func (s *Server) UpdateRecord(ctx context.Context, req *pb.UpdateRecordRequest) (*pb.Record, error) {
	id, patient, err := s.target(ctx, req.Patient)
	if err != nil {
		return nil, err
	}
	rec, err := s.svc.UpdateRecord(ctx, id, patient, convert.FromWireUpdate(req))
	if err != nil {
		return nil, s.fail(err)
	}
	return convert.ToWireRecord(*rec), nil
}

// GetRecord returns the full record and the sharing flag.
func (s *Server) GetRecord(ctx context.Context, req *pb.PatientRequest) (*pb.SensitiveRecord, error) {
	id, patient, err := s.target(ctx, req.Patient)
	if err != nil {
		return nil, err
	}
	rec, err := s.svc.GetRecord(ctx, id, patient)
	if err != nil {
		return nil, s.fail(err)
	}
	return convert.ToWireSensitive(*rec), nil
}

// ListPublicRecords lists records of patients that enabled sharing.
func (s *Server) ListPublicRecords(ctx context.Context, _ *emptypb.Empty) (*pb.RecordList, error) {
	rs, err := s.svc.ListPublicRecords(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	return convert.ToWireRecordList(rs), nil
}

// --- sharing ---

// SetDataSharing sets the caller's sharing flag.
func (s *Server) SetDataSharing(ctx context.Context, req *pb.DataSharingRequest) (*emptypb.Empty, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	patient, err := convert.OptionalIdentity("patient", req.Patient)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.svc.SetDataSharing(ctx, id, patient, req.Enabled); err != nil {
		return nil, s.fail(err)
	}
	return &emptypb.Empty{}, nil
}

// GetDataSharing reads a patient's sharing flag.
func (s *Server) GetDataSharing(ctx context.Context, req *pb.PatientRequest) (*wrapperspb.BoolValue, error) {
	patient, err := convert.Identity("patient", req.Patient)
	if err != nil {
		return nil, s.fail(err)
	}
	on, err := s.svc.GetDataSharing(ctx, patient)
	if err != nil {
		return nil, s.fail(err)
	}
	return wrapperspb.Bool(on), nil
}

// --- reviews ---

// AddReview appends a doctor review.
func (s *Server) AddReview(ctx context.Context, req *pb.AddReviewRequest) (*pb.Review, error) {
	id, patient, err := s.target(ctx, req.Patient)
	if err != nil {
		return nil, err
	}
	r, err := s.svc.AddReview(ctx, id, patient, req.Text)
	if err != nil {
		return nil, s.fail(err)
	}
	return convert.ToWireReview(*r), nil
}

// GetReviews returns a patient's reviews in append order.
func (s *Server) GetReviews(ctx context.Context, req *pb.PatientRequest) (*pb.ReviewList, error) {
	id, patient, err := s.target(ctx, req.Patient)
	if err != nil {
		return nil, err
	}
	rs, err := s.svc.GetReviews(ctx, id, patient)
	if err != nil {
		return nil, s.fail(err)
	}
	return convert.ToWireReviewList(rs), nil
}

// --- audit ---

// ListEvents pages the audit log. Any authenticated caller may read it.
func (s *Server) ListEvents(ctx context.Context, req *pb.ListEventsRequest) (*pb.EventList, error) {
	if _, err := caller(ctx); err != nil {
		return nil, err
	}
	evs, err := s.svc.ListEvents(ctx, req.Since, int(req.Limit))
	if err != nil {
		return nil, s.fail(err)
	}
	return convert.ToWireEventList(evs), nil
}

// target resolves the caller and the patient named in the request.
func (s *Server) target(ctx context.Context, patient string) (model.Identity, model.Identity, error) {
	id, err := caller(ctx)
	if err != nil {
		return model.NilIdentity, model.NilIdentity, err
	}
	p, err := convert.Identity("patient", patient)
	if err != nil {
		return model.NilIdentity, model.NilIdentity, s.fail(err)
	}
	return id, p, nil
}

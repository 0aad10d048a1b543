package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/sha3"

	pb "github.com/and161185/medgate/api/medgate/v1"
	"github.com/and161185/medgate/internal/auth"
	"github.com/and161185/medgate/internal/model"
)

func newRootCmd(c *conn) *cobra.Command {
	root := &cobra.Command{
		Use:           "mgctl",
		Short:         "Operator CLI for MedGate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.addr, "addr", "localhost:8443", "server addr")
	pf.StringVar(&c.caPath, "cacert", "", "CA cert (PEM)")
	pf.BoolVar(&c.skipVerify, "insecure", false, "skip cert verify (dev)")
	pf.BoolVar(&c.plaintext, "plaintext", false, "connect without TLS")
	pf.StringVar(&c.token, "token", "", "bearer token (defaults to the saved one)")
	pf.DurationVar(&c.timeout, "timeout", 30*time.Second, "per-command timeout")

	root.AddCommand(
		versionCmd(),
		tokenCmd(),
		initCmd(c),
		allowlistCmd(c),
		consentCmd(c, "grant-center", "Consent to a health center", true, false),
		consentCmd(c, "revoke-center", "Withdraw consent from a health center", false, false),
		consentCmd(c, "grant-doctor", "Consent to a doctor", true, true),
		consentCmd(c, "revoke-doctor", "Withdraw consent from a doctor", false, true),
		addCmd(c),
		updateCmd(c),
		getCmd(c),
		publicCmd(c),
		shareCmd(c),
		reviewCmd(c),
		reviewsCmd(c),
		eventsCmd(c),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mgctl %s (%s)\n", version, buildDate)
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		key, sub string
		ttl      time.Duration
		noSave   bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an identity and save it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				key = os.Getenv("MEDGATE_AUTH_JWT_KEY")
			}
			if key == "" {
				return errors.New("need --key or MEDGATE_AUTH_JWT_KEY")
			}
			id, err := model.ParseIdentity(sub)
			if err != nil || id == model.NilIdentity {
				return fmt.Errorf("bad --sub %q", sub)
			}
			now := time.Now()
			tok, err := auth.Issue([]byte(key), id, ttl, now)
			if err != nil {
				return err
			}
			if !noSave {
				if err := saveToken(tok, id.String(), now.Add(ttl)); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "HS256 signing key")
	cmd.Flags().StringVar(&sub, "sub", "", "identity to act as")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "print only, do not save")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func initCmd(c *conn) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Register the caller as a patient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				if err := cl.Initialize(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

func allowlistCmd(c *conn) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "allowlist <center>",
		Short: "Approve (or with --remove, revoke) a health center; owner only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				if err := cl.SetHealthCenterAllowlist(ctx, &pb.AllowlistRequest{Center: args[0], Approved: !remove}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "revoke the approval")
	return cmd
}

func consentCmd(c *conn, use, short string, granted, doctor bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <subject>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				req := &pb.ConsentRequest{Subject: args[0], Granted: granted}
				var err error
				if doctor {
					err = cl.SetDoctorConsent(ctx, req)
				} else {
					err = cl.SetHealthCenterConsent(ctx, req)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

// recordFlags collects the add command input. Contact strings are hashed locally.
type recordFlags struct {
	name, dob, gender, bloodType       string
	contact, contactHash               string
	emergency, emergencyHash           string
	recordHash, medications, allergies string
}

func (f *recordFlags) fields() (pb.RecordFields, error) {
	var out pb.RecordFields
	if f.dob != "" {
		t, err := time.Parse(time.DateOnly, f.dob)
		if err != nil {
			return out, fmt.Errorf("bad --dob %q: want YYYY-MM-DD", f.dob)
		}
		out.DateOfBirth = t.Unix()
	}
	contact, err := hashOrPass("contact", f.contact, f.contactHash)
	if err != nil {
		return out, err
	}
	emergency, err := hashOrPass("emergency", f.emergency, f.emergencyHash)
	if err != nil {
		return out, err
	}
	out.Name = f.name
	out.Gender = f.gender
	out.ContactInfoHash = contact
	out.EmergencyContactHash = emergency
	out.MedicalRecordHash = f.recordHash
	out.CurrentMedications = f.medications
	out.Allergies = f.allergies
	out.BloodType = f.bloodType
	return out, nil
}

// keccakHex returns the 0x-prefixed keccak-256 digest of s.
func keccakHex(s string) string {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(s))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// hashOrPass hashes raw, or passes a pre-computed hash through. Not both.
func hashOrPass(name, raw, hashed string) (string, error) {
	switch {
	case raw != "" && hashed != "":
		return "", fmt.Errorf("--%s and --%s-hash are mutually exclusive", name, name)
	case hashed != "":
		return hashed, nil
	case raw != "":
		return keccakHex(raw), nil
	}
	return "", nil
}

func addCmd(c *conn) *cobra.Command {
	var f recordFlags
	cmd := &cobra.Command{
		Use:   "add <patient>",
		Short: "Create the record of a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := f.fields()
			if err != nil {
				return err
			}
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				rec, err := cl.AddRecord(ctx, &pb.AddRecordRequest{Patient: args[0], Fields: fields})
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "patient name")
	fl.StringVar(&f.dob, "dob", "", "date of birth, YYYY-MM-DD")
	fl.StringVar(&f.gender, "gender", "", "gender")
	fl.StringVar(&f.contact, "contact", "", "contact info, hashed before sending")
	fl.StringVar(&f.contactHash, "contact-hash", "", "pre-hashed contact info")
	fl.StringVar(&f.emergency, "emergency", "", "emergency contact, hashed before sending")
	fl.StringVar(&f.emergencyHash, "emergency-hash", "", "pre-hashed emergency contact")
	fl.StringVar(&f.recordHash, "record-hash", "", "medical record content hash")
	fl.StringVar(&f.medications, "medications", "", "current medications")
	fl.StringVar(&f.allergies, "allergies", "", "allergies")
	fl.StringVar(&f.bloodType, "blood-type", "", "blood type")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func updateCmd(c *conn) *cobra.Command {
	var req pb.UpdateRecordRequest
	cmd := &cobra.Command{
		Use:   "update <patient>",
		Short: "Replace the mutable record fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Patient = args[0]
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				rec, err := cl.UpdateRecord(ctx, &req)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&req.MedicalRecordHash, "record-hash", "", "medical record content hash")
	fl.StringVar(&req.CurrentMedications, "medications", "", "current medications")
	fl.StringVar(&req.Allergies, "allergies", "", "allergies")
	return cmd
}

func getCmd(c *conn) *cobra.Command {
	return &cobra.Command{
		Use:   "get <patient>",
		Short: "Read a patient record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				rec, err := cl.GetRecord(ctx, &pb.PatientRequest{Patient: args[0]})
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
}

func publicCmd(c *conn) *cobra.Command {
	return &cobra.Command{
		Use:   "public",
		Short: "List records whose owners enabled data sharing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				list, err := cl.ListPublicRecords(ctx)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), list.Records)
				return nil
			})
		},
	}
}

func shareCmd(c *conn) *cobra.Command {
	var patient string
	cmd := &cobra.Command{
		Use:       "share on|off",
		Short:     "Enable or disable public data sharing",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &pb.DataSharingRequest{Patient: patient, Enabled: args[0] == "on"}
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				if err := cl.SetDataSharing(ctx, req); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&patient, "patient", "", "patient (defaults to the caller)")
	return cmd
}

func reviewCmd(c *conn) *cobra.Command {
	return &cobra.Command{
		Use:   "review <patient> <text...>",
		Short: "Append a doctor review",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &pb.AddReviewRequest{Patient: args[0], Text: strings.Join(args[1:], " ")}
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				r, err := cl.AddReview(ctx, req)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}
}

func reviewsCmd(c *conn) *cobra.Command {
	return &cobra.Command{
		Use:   "reviews <patient>",
		Short: "List the reviews of a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				list, err := cl.GetReviews(ctx, &pb.PatientRequest{Patient: args[0]})
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), list.Reviews)
				return nil
			})
		},
	}
}

func eventsCmd(c *conn) *cobra.Command {
	var req pb.ListEventsRequest
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Page the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.call(func(ctx context.Context, cl *pb.Client) error {
				list, err := cl.ListEvents(ctx, &req)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), list.Events)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&req.Since, "since", 0, "return events after this sequence number")
	cmd.Flags().Int32Var(&req.Limit, "limit", 0, "page size (server default when 0)")
	return cmd
}

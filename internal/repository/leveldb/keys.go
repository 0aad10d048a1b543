package leveldb

import "encoding/binary"

const (
	pfxPatient       = "patient_"
	pfxPatientOrder  = "porder_"
	pfxCenter        = "center_"
	pfxCenterConsent = "cconsent_"
	pfxDoctorConsent = "dconsent_"
	pfxRecord        = "record_"
	pfxReview        = "review_"
	pfxEvent         = "event_"

	metaPatientSeq = "meta_patient_seq"
	metaReviewSeq  = "meta_review_seq"
	metaEventSeq   = "meta_event_seq"
)

func key(prefix string, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	k = append(k, prefix...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func seqBytes(seq int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(seq))
	return b[:]
}

func seqFrom(b []byte) int64 { return int64(binary.BigEndian.Uint64(b)) }

package features

import "fmt"

// canonicalFeatures is the model input ordering. It must match the fitted input
// scaler column for column.
var canonicalFeatures = []string{
	"age", "albumin_max", "albumin_min", "alp_max", "alp_min", "alt_max", "alt_min",
	"aniongap_max", "aniongap_min", "antibiotic_count", "ast_max", "ast_min",
	"bands_max", "bands_min", "baseexcess_max", "baseexcess_min", "bicarbonate_max",
	"bicarbonate_min", "bilirubin_direct_max", "bilirubin_direct_min",
	"bilirubin_indirect_max", "bilirubin_indirect_min", "bilirubin_total_max",
	"bilirubin_total_min", "bun_max", "bun_min", "calcium_max", "calcium_min",
	"chloride_max", "chloride_min", "ck_mb_max", "ck_mb_min", "creatinine_max",
	"creatinine_min", "crp_max", "crp_min", "dbp_max", "dbp_min", "fibrinogen_max",
	"fibrinogen_min", "fio2_max", "fio2_min", "gcs_eyes_max", "gcs_eyes_min",
	"gcs_max", "gcs_min", "gcs_motor_max", "gcs_motor_min", "gcs_verbal_max",
	"gcs_verbal_min", "gender", "ggt_max", "ggt_min", "globulin_max", "globulin_min",
	"glucose_max", "glucose_min", "heart_rate_max", "heart_rate_min", "height",
	"hemoglobin_max", "hemoglobin_min", "hr", "immature_granulocytes_max",
	"immature_granulocytes_min", "inr_max", "inr_min", "lactate_max", "lactate_min",
	"lymphocytes_abs_max", "lymphocytes_abs_min", "mbp_max", "mbp_min",
	"neutrophils_abs_max", "neutrophils_abs_min", "ntprobnp_max", "ntprobnp_min",
	"pco2_max", "pco2_min", "pfratio_max", "pfratio_min", "ph_max", "ph_min",
	"platelet_max", "platelet_min", "po2_max", "po2_min", "potassium_max",
	"potassium_min", "pt_max", "pt_min", "resp_rate_max", "resp_rate_min",
	"sbp_max", "sbp_min", "so2_max", "so2_min", "sodium_max", "sodium_min",
	"spo2_max", "spo2_min", "stay_id", "temperature_max", "temperature_min",
	"total_protein_max", "total_protein_min", "totalco2_max", "totalco2_min",
	"troponin_t_max", "troponin_t_min", "urineoutput_max", "urineoutput_min",
	"vaso_dopamine_max", "vaso_epinephrine_max", "vaso_norepinephrine_max",
	"vaso_phenylephrine_max", "vaso_vasopressin_max", "ventilation_flag",
	"wbc_max", "wbc_min", "weight",
}

// CanonicalCount is the number of model input features.
const CanonicalCount = 121

// LabelColumns are training targets. They never reach the model, even when a
// caller supplies them.
var LabelColumns = []string{
	"respiration", "coagulation", "liver", "cardiovascular", "cns", "renal",
	"hours_beforesepsis", "sepsis", "fod", "hours_beforedeath",
}

const (
	GenderField      = "gender"
	GenderLabelField = "f0_"
	TimeField        = "hr"
	StayIDField      = "stay_id"
)

type Schema struct {
	names  []string
	index  map[string]int
	labels map[string]bool
}

func NewSchema(names []string) (Schema, error) {
	if len(names) == 0 {
		return Schema{}, fmt.Errorf("schema has no features")
	}

	index := make(map[string]int, len(names))
	for i, name := range names {
		if _, dup := index[name]; dup {
			return Schema{}, fmt.Errorf("duplicate feature %q in schema", name)
		}
		index[name] = i
	}

	labels := make(map[string]bool, len(LabelColumns))
	for _, l := range LabelColumns {
		labels[l] = true
	}

	cp := make([]string, len(names))
	copy(cp, names)

	return Schema{names: cp, index: index, labels: labels}, nil
}

// Canonical returns the 121-feature schema the production model was fitted on.
func Canonical() Schema {
	s, err := NewSchema(canonicalFeatures)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Schema) Len() int {
	return len(s.names)
}

func (s Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

func (s Schema) IsLabel(name string) bool {
	return s.labels[name]
}

// Equal reports whether names matches the schema exactly, order included.
func (s Schema) Equal(names []string) bool {
	if len(names) != len(s.names) {
		return false
	}
	for i := range names {
		if names[i] != s.names[i] {
			return false
		}
	}
	return true
}

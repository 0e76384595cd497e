package query

import (
	"fmt"
	"strings"
)

// Schema is the CDM schema every operation reads from.
const Schema = "cdm_synthea10"

// Operation IDs.
const (
	OpPatientCount            = "patient-count"
	OpSexDistribution         = "sex-distribution"
	OpRaceDistribution        = "race-distribution"
	OpEthnicityDistribution   = "ethnicity-distribution"
	OpAgeAtFirstObservation   = "age-at-first-observation"
	OpYearOfBirth             = "year-of-birth"
	OpTopConditions           = "top-conditions"
	OpMonthlyRecordDensity    = "monthly-record-density"
	OpMonthlyRecordsPerPerson = "monthly-records-per-person"
	OpConceptsPerPerson       = "concepts-per-person"
)

// TopConditionsLimit caps the top-conditions result.
const TopConditionsLimit = 50

// Operation is one fixed, parameterless aggregate query.
type Operation struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Columns     []string `json:"columns"`

	// Source lists the columns the SQL must return when they differ from
	// Columns, i.e. when Post reshapes the rows.
	Source []string `json:"-"`

	// Post reshapes raw store rows into the Columns layout.
	Post func([]Row) ([]Row, error) `json:"-"`
}

// SourceColumns returns the columns expected back from the store.
func (o *Operation) SourceColumns() []string {
	if o.Source != nil {
		return o.Source
	}
	return o.Columns
}

// Catalog is an ordered, read-only set of operations.
type Catalog struct {
	ops   []*Operation
	index map[string]*Operation
}

func NewCatalog(ops ...*Operation) *Catalog {
	c := &Catalog{index: make(map[string]*Operation, len(ops))}
	for _, op := range ops {
		if _, dup := c.index[op.ID]; dup {
			panic(fmt.Sprintf("query: duplicate operation %q", op.ID))
		}
		c.ops = append(c.ops, op)
		c.index[op.ID] = op
	}
	return c
}

// Find looks up an operation by ID.
func (c *Catalog) Find(id string) (*Operation, bool) {
	op, ok := c.index[id]
	return op, ok
}

// Operations returns the operations in catalog order.
func (c *Catalog) Operations() []*Operation {
	out := make([]*Operation, len(c.ops))
	copy(out, c.ops)
	return out
}

// domainSource names the table and event date column of one clinical domain.
type domainSource struct {
	Domain     string
	Table      string
	DateColumn string
}

// monthlyDomains are the domains counted by the monthly operations, in
// column order.
var monthlyDomains = []domainSource{
	{"condition", "condition_occurrence", "condition_start_date"},
	{"measurement", "measurement", "measurement_date"},
	{"death", "death", "death_date"},
	{"observation", "observation", "observation_date"},
	{"visit", "visit_occurrence", "visit_start_date"},
	{"procedure", "procedure_occurrence", "procedure_date"},
	{"drug", "drug_exposure", "drug_exposure_start_date"},
	{"device", "device_exposure", "device_exposure_start_date"},
}

// conceptDomain names the table and concept column of one domain counted by
// concepts-per-person.
type conceptDomain struct {
	Domain        string
	Table         string
	ConceptColumn string
}

var conceptDomains = []conceptDomain{
	{"condition", "condition_occurrence", "condition_concept_id"},
	{"drug", "drug_exposure", "drug_concept_id"},
	{"procedure", "procedure_occurrence", "procedure_concept_id"},
	{"measurement", "measurement", "measurement_concept_id"},
	{"observation", "observation", "observation_concept_id"},
}

// MonthlyDomains returns the domain names of the monthly operations.
func MonthlyDomains() []string {
	out := make([]string, len(monthlyDomains))
	for i, d := range monthlyDomains {
		out[i] = d.Domain
	}
	return out
}

// ConceptDomains returns the domain names counted by concepts-per-person.
func ConceptDomains() []string {
	out := make([]string, len(conceptDomains))
	for i, d := range conceptDomains {
		out[i] = d.Domain
	}
	return out
}

func domainColumns(first, suffix string) []string {
	cols := []string{first}
	for _, d := range monthlyDomains {
		cols = append(cols, d.Domain+suffix)
	}
	return cols
}

// monthlySQL unions per-domain monthly counts into long-form rows.
func monthlySQL(withPersons bool) string {
	parts := make([]string, 0, len(monthlyDomains))
	for _, d := range monthlyDomains {
		persons := ""
		if withPersons {
			persons = ", COUNT(DISTINCT person_id) AS persons"
		}
		parts = append(parts, fmt.Sprintf(
			`SELECT '%s' AS domain, date_trunc('month', %s)::date AS month, COUNT(*) AS records%s
	FROM %s.%s WHERE %s IS NOT NULL GROUP BY 2`,
			d.Domain, d.DateColumn, persons, Schema, d.Table, d.DateColumn))
	}
	return strings.Join(parts, "\nUNION ALL\n") + "\nORDER BY month, domain"
}

func conceptsPerPersonSQL() string {
	parts := make([]string, 0, len(conceptDomains))
	for _, d := range conceptDomains {
		parts = append(parts, fmt.Sprintf(
			`SELECT person_id, '%s' AS domain, COUNT(DISTINCT %s) AS n_concepts
	FROM %s.%s GROUP BY person_id`,
			d.Domain, d.ConceptColumn, Schema, d.Table))
	}
	return strings.Join(parts, "\nUNION ALL\n") + "\nORDER BY person_id, domain"
}

// DefaultCatalog returns the dashboard's operations.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		&Operation{
			ID:          OpPatientCount,
			Name:        "Patient Count",
			Description: "Total number of persons in the CDM",
			SQL:         `SELECT COUNT(*) AS total FROM ` + Schema + `.person`,
			Columns:     []string{"total"},
		},
		&Operation{
			ID:          OpSexDistribution,
			Name:        "Sex Distribution",
			Description: "Persons per gender concept",
			SQL: `SELECT person.gender_concept_id, concept.concept_name, COUNT(person.gender_concept_id) AS total
FROM ` + Schema + `.person
JOIN ` + Schema + `.concept ON concept.concept_id = person.gender_concept_id
GROUP BY person.gender_concept_id, concept.concept_name
ORDER BY person.gender_concept_id`,
			Columns: []string{"gender_concept_id", "concept_name", "total"},
		},
		&Operation{
			ID:          OpRaceDistribution,
			Name:        "Race Distribution",
			Description: "Persons per race concept, including ids without a dictionary entry",
			SQL: `SELECT p.race_concept_id, c.concept_name, COUNT(*) AS total
FROM ` + Schema + `.person p
LEFT JOIN ` + Schema + `.concept c ON c.concept_id = p.race_concept_id
GROUP BY p.race_concept_id, c.concept_name
ORDER BY p.race_concept_id`,
			Columns: []string{"race_concept_id", "concept_name", "total"},
		},
		&Operation{
			ID:          OpEthnicityDistribution,
			Name:        "Ethnicity Distribution",
			Description: "Persons per ethnicity concept, including ids without a dictionary entry",
			SQL: `SELECT p.ethnicity_concept_id, c.concept_name, COUNT(*) AS total
FROM ` + Schema + `.person p
LEFT JOIN ` + Schema + `.concept c ON c.concept_id = p.ethnicity_concept_id
GROUP BY p.ethnicity_concept_id, c.concept_name
ORDER BY p.ethnicity_concept_id`,
			Columns: []string{"ethnicity_concept_id", "concept_name", "total"},
		},
		&Operation{
			ID:          OpAgeAtFirstObservation,
			Name:        "Age at First Observation",
			Description: "Age in whole years at each person's earliest observation period",
			SQL: `SELECT p.person_id, op.observation_period_start_date, p.birth_datetime,
	EXTRACT(YEAR FROM AGE(op.observation_period_start_date, p.birth_datetime))::int AS age_in_years
FROM ` + Schema + `.person p
JOIN (
	SELECT person_id, MIN(observation_period_start_date) AS observation_period_start_date
	FROM ` + Schema + `.observation_period
	GROUP BY person_id
) op ON op.person_id = p.person_id
ORDER BY p.person_id`,
			Columns: []string{"person_id", "observation_period_start_date", "birth_datetime", "age_in_years"},
		},
		&Operation{
			ID:          OpYearOfBirth,
			Name:        "Year of Birth",
			Description: "Year of birth per person",
			SQL:         `SELECT person_id, year_of_birth AS age_in_years FROM ` + Schema + `.person ORDER BY person_id`,
			Columns:     []string{"person_id", "age_in_years"},
		},
		&Operation{
			ID:          OpTopConditions,
			Name:        "Top Conditions",
			Description: fmt.Sprintf("The %d conditions with the most distinct persons", TopConditionsLimit),
			SQL: fmt.Sprintf(`SELECT COUNT(DISTINCT co.person_id) AS cnt, co.condition_concept_id, c.concept_name
FROM %[1]s.condition_occurrence co
JOIN %[1]s.concept c ON c.concept_id = co.condition_concept_id
GROUP BY co.condition_concept_id, c.concept_name
ORDER BY cnt DESC, co.condition_concept_id ASC
LIMIT %[2]d`, Schema, TopConditionsLimit),
			Columns: []string{"cnt", "condition_concept_id", "concept_name"},
			Post:    rankTopConditions,
		},
		&Operation{
			ID:          OpMonthlyRecordDensity,
			Name:        "Monthly Record Density",
			Description: "Records per month in each clinical domain, zero where a domain has none",
			SQL:         monthlySQL(false),
			Columns:     domainColumns("month_year", TotalSuffix),
			Source:      []string{"domain", "month", "records"},
			Post:        pivotDensity,
		},
		&Operation{
			ID:          OpMonthlyRecordsPerPerson,
			Name:        "Monthly Records per Person",
			Description: "Average records per person per month in each clinical domain",
			SQL:         monthlySQL(true),
			Columns:     domainColumns("month_date", AvgSuffix),
			Source:      []string{"domain", "month", "records", "persons"},
			Post:        pivotAverage,
		},
		&Operation{
			ID:          OpConceptsPerPerson,
			Name:        "Concepts per Person",
			Description: "Distinct concept codes used per person in each domain",
			SQL:         conceptsPerPersonSQL(),
			Columns:     []string{"person_id", "domain", "n_concepts"},
		},
	)
}

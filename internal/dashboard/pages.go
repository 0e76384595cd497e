package dashboard

import (
	"github.com/omop/dashboard/internal/chart"
	"github.com/omop/dashboard/internal/query"
)

// Chart IDs.
const (
	ChartPatientCount      = "patient-count"
	ChartSex               = "sex"
	ChartRace              = "race"
	ChartEthnicity         = "ethnicity"
	ChartAgeAtObservation  = "age-at-first-observation"
	ChartYearOfBirth       = "year-of-birth"
	ChartTopConditions     = "top-conditions"
	ChartRecordDensity     = "record-density"
	ChartRecordsPerPerson  = "records-per-person"
	ChartConceptsPerPerson = "concepts-per-person"
)

// Page slugs.
const (
	PageOverview     = "overview"
	PageDemographics = "demographics"
	PageConditions   = "conditions"
	PageDataDensity  = "data-density"
)

func seriesColumns(suffix string) []string {
	domains := query.MonthlyDomains()
	cols := make([]string, len(domains))
	for i, d := range domains {
		cols[i] = d + suffix
	}
	return cols
}

var (
	patientCountPanel = Panel{
		ID:        ChartPatientCount,
		Title:     "Total Patients",
		Operation: query.OpPatientCount,
		Build: func(res query.Result) (*chart.Figure, error) {
			return chart.Indicator(res, "total", "")
		},
	}
	sexPanel = Panel{
		ID:        ChartSex,
		Title:     "Sex Distribution",
		Footer:    "Gender distribution across the patient cohort.",
		Operation: query.OpSexDistribution,
		Build: func(res query.Result) (*chart.Figure, error) {
			return chart.Donut(res, "concept_name", "total")
		},
	}
	racePanel = Panel{
		ID:        ChartRace,
		Title:     "Race Distribution",
		Footer:    "Race distribution across the patient cohort.",
		Operation: query.OpRaceDistribution,
		Build: func(res query.Result) (*chart.Figure, error) {
			return chart.Donut(res, "concept_name", "total")
		},
	}
	ethnicityPanel = Panel{
		ID:        ChartEthnicity,
		Title:     "Ethnicity Distribution",
		Footer:    "Ethnicity distribution across the patient cohort.",
		Operation: query.OpEthnicityDistribution,
		Build: func(res query.Result) (*chart.Figure, error) {
			return chart.Donut(res, "concept_name", "total")
		},
	}
	agePanel = Panel{
		ID:        ChartAgeAtObservation,
		Title:     "Age at First Observation",
		Footer:    "The age of the patient cohort at first observation.",
		Operation: query.OpAgeAtFirstObservation,
		Build: func(res query.Result) (*chart.Figure, error) {
			return chart.Histogram(res, "age_in_years", "Age")
		},
	}
	yearOfBirthPanel = Panel{
		ID:        ChartYearOfBirth,
		Title:     "Year of Birth",
		Footer:    "The age of the patient cohort at first seen.",
		Operation: query.OpYearOfBirth,
		Build: func(res query.Result) (*chart.Figure, error) {
			return chart.Histogram(res, "age_in_years", "Year")
		},
	}
	topConditionsPanel = Panel{
		ID:        ChartTopConditions,
		Title:     "Top Conditions",
		Footer:    "Distribution of medical conditions across the patient cohort. Top 50 most common conditions.",
		Operation: query.OpTopConditions,
		Build: func(res query.Result) (*chart.Figure, error) {
			return chart.Treemap(res, chart.TreemapRootName, "condition_concept_id", "concept_name", "cnt")
		},
	}
	densityPanel = Panel{
		ID:        ChartRecordDensity,
		Title:     "Monthly Record Density",
		Footer:    "Records per month in each clinical domain across the patient cohort.",
		Operation: query.OpMonthlyRecordDensity,
		Build: func(res query.Result) (*chart.Figure, error) {
			return chart.TimeSeries(res, "month_year", seriesColumns(query.TotalSuffix), "Records")
		},
	}
	perPersonPanel = Panel{
		ID:        ChartRecordsPerPerson,
		Title:     "Records per Person",
		Footer:    "Average records per person per month in each clinical domain.",
		Operation: query.OpMonthlyRecordsPerPerson,
		Build: func(res query.Result) (*chart.Figure, error) {
			return chart.TimeSeries(res, "month_date", seriesColumns(query.AvgSuffix), "Records per person")
		},
	}
	conceptsPanel = Panel{
		ID:        ChartConceptsPerPerson,
		Title:     "Concepts per Person",
		Footer:    "Distinct concept codes per person in each clinical domain.",
		Operation: query.OpConceptsPerPerson,
		Build: func(res query.Result) (*chart.Figure, error) {
			return chart.BoxPlot(res, "domain", "n_concepts", "Concepts")
		},
	}
)

// DefaultPages returns the dashboard's pages in navigation order.
func DefaultPages() []Page {
	return []Page{
		{
			Slug:   PageOverview,
			Title:  "Overview",
			Panels: []Panel{patientCountPanel, sexPanel, yearOfBirthPanel, topConditionsPanel},
		},
		{
			Slug:   PageDemographics,
			Title:  "Demographics",
			Panels: []Panel{sexPanel, racePanel, ethnicityPanel, agePanel},
		},
		{
			Slug:   PageConditions,
			Title:  "Conditions",
			Panels: []Panel{topConditionsPanel},
		},
		{
			Slug:   PageDataDensity,
			Title:  "Data Density",
			Panels: []Panel{densityPanel, perPersonPanel, conceptsPanel},
		},
	}
}

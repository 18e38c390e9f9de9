package manifest

// Collection names as they appear under "data".
const (
	Patients                = "patients"
	MedicalHistories        = "medicalHistories"
	Teeth                   = "teeth"
	ToothConditionHistories = "toothConditionHistories"
	Appointments            = "appointments"
	Treatments              = "treatments"
	Invoices                = "invoices"
	InvoiceItems            = "invoiceItems"
	Payments                = "payments"
	InventoryItems          = "inventoryItems"
	StockTransactions       = "stockTransactions"
	Expenses                = "expenses"
)

// LatestVersion is written by every new backup.
const LatestVersion = "3.0.0"

// requiredCollections must be present, as arrays, in every version.
var requiredCollections = []string{
	Patients,
	MedicalHistories,
	Teeth,
	Appointments,
	Treatments,
	Invoices,
}

// Version describes one supported format version. Each version's optional
// set is a superset of the previous one.
type Version struct {
	Name     string
	Optional []string
}

// versions is ordered oldest first. Adding a format version is a new row.
var versions = []Version{
	{Name: "1.0.0"},
	{Name: "2.0.0", Optional: []string{ToothConditionHistories, InvoiceItems, Payments}},
	{Name: "3.0.0", Optional: []string{
		ToothConditionHistories, InvoiceItems, Payments,
		InventoryItems, StockTransactions, Expenses,
	}},
}

// SupportedVersions returns the accepted format versions, oldest first.
func SupportedVersions() []string {
	names := make([]string, len(versions))
	for i, v := range versions {
		names[i] = v.Name
	}
	return names
}

// Lookup returns the version entry for name.
func Lookup(name string) (Version, bool) {
	for _, v := range versions {
		if v.Name == name {
			return v, true
		}
	}
	return Version{}, false
}

// Required returns the collections every manifest of this version carries.
func (v Version) Required() []string {
	out := make([]string, len(requiredCollections))
	copy(out, requiredCollections)
	return out
}

// Collections returns required then optional collection names.
func (v Version) Collections() []string {
	return append(v.Required(), v.Optional...)
}

// Declares reports whether name is a required or optional collection.
func (v Version) Declares(name string) bool {
	for _, c := range v.Collections() {
		if c == name {
			return true
		}
	}
	return false
}

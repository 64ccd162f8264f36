package probe

// Aliases are normalized header names (see csv.NormalizeHeader) seen in
// county extracts and partner rosters for each required column.
var candidateAliases = map[string][]string{
	"SOS_VOTERID":          {"voter_id", "voterid", "sos_voter_id", "state_voter_id"},
	"FIRST_NAME":           {"first", "firstname", "given_name"},
	"LAST_NAME":            {"last", "lastname", "surname", "family_name"},
	"DATE_OF_BIRTH":        {"dob", "birth_date", "birthdate", "birthday"},
	"RESIDENTIAL_ADDRESS1": {"address", "address1", "street", "street_address"},
	"RESIDENTIAL_CITY":     {"city"},
	"RESIDENTIAL_STATE":    {"state"},
	"RESIDENTIAL_ZIP":      {"zip", "zipcode", "zip_code", "postal_code"},
}

var targetAliases = map[string][]string{
	"name":       {"full_name", "fullname", "voter_name", "person_name"},
	"birth_year": {"yob", "year_of_birth", "birthyear", "dob", "date_of_birth", "birth_date", "birthdate"},
	"address":    {"street", "street_address", "address1", "residential_address1"},
	"city":       {"residential_city", "town"},
	"state":      {"residential_state", "st"},
	"zip":        {"zipcode", "zip_code", "postal_code", "residential_zip"},
}

func aliasesFor(role Role) map[string][]string {
	if role == RoleTarget {
		return targetAliases
	}
	return candidateAliases
}

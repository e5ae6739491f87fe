package jamf

// Package is a Pro API package record.
type Package struct {
	ID                   string `json:"id,omitempty"                   yaml:"id,omitempty"`
	PackageName          string `json:"packageName"                    yaml:"packageName"`
	FileName             string `json:"fileName"                       yaml:"fileName"`
	CategoryID           string `json:"categoryId"                     yaml:"categoryId"`
	Info                 string `json:"info,omitempty"                 yaml:"info,omitempty"`
	Notes                string `json:"notes,omitempty"                yaml:"notes,omitempty"`
	Priority             int    `json:"priority"                       yaml:"priority"`
	OSRequirements       string `json:"osRequirements,omitempty"       yaml:"osRequirements,omitempty"`
	FillUserTemplate     bool   `json:"fillUserTemplate"               yaml:"fillUserTemplate"`
	Indexed              bool   `json:"indexed,omitempty"              yaml:"indexed,omitempty"`
	FillExistingUsers    bool   `json:"fillExistingUsers"              yaml:"fillExistingUsers"`
	SWU                  bool   `json:"swu"                            yaml:"swu"`
	RebootRequired       bool   `json:"rebootRequired"                 yaml:"rebootRequired"`
	SelfHealNotify       bool   `json:"selfHealNotify"                 yaml:"selfHealNotify"`
	SelfHealingAction    string `json:"selfHealingAction,omitempty"    yaml:"selfHealingAction,omitempty"`
	OSInstall            bool   `json:"osInstall"                      yaml:"osInstall"`
	SerialNumber         string `json:"serialNumber,omitempty"         yaml:"serialNumber,omitempty"`
	ParentPackageID      string `json:"parentPackageId,omitempty"      yaml:"parentPackageId,omitempty"`
	BasePath             string `json:"basePath,omitempty"             yaml:"basePath,omitempty"`
	SuppressUpdates      bool   `json:"suppressUpdates"                yaml:"suppressUpdates"`
	CloudTransferStatus  string `json:"cloudTransferStatus,omitempty"  yaml:"cloudTransferStatus,omitempty"`
	IgnoreConflicts      bool   `json:"ignoreConflicts"                yaml:"ignoreConflicts"`
	SuppressFromDock     bool   `json:"suppressFromDock"               yaml:"suppressFromDock"`
	SuppressEula         bool   `json:"suppressEula"                   yaml:"suppressEula"`
	SuppressRegistration bool   `json:"suppressRegistration"           yaml:"suppressRegistration"`
	InstallLanguage      string `json:"installLanguage,omitempty"      yaml:"installLanguage,omitempty"`
	MD5                  string `json:"md5,omitempty"                  yaml:"md5,omitempty"`
	SHA256               string `json:"sha256,omitempty"               yaml:"sha256,omitempty"`
	HashType             string `json:"hashType,omitempty"             yaml:"hashType,omitempty"`
	HashValue            string `json:"hashValue,omitempty"            yaml:"hashValue,omitempty"`
	Size                 string `json:"size,omitempty"                 yaml:"size,omitempty"`
	OSInstallerVersion   string `json:"osInstallerVersion,omitempty"   yaml:"osInstallerVersion,omitempty"`
	Manifest             string `json:"manifest,omitempty"             yaml:"manifest,omitempty"`
	ManifestFileName     string `json:"manifestFileName,omitempty"     yaml:"manifestFileName,omitempty"`
	Format               string `json:"format,omitempty"               yaml:"format,omitempty"`
}

// NewPackage returns the record the JCDS upload registers for fileName:
// no category, priority 3, every install flag off.
func NewPackage(fileName string) *Package {
	return &Package{
		PackageName: fileName,
		FileName:    fileName,
		CategoryID:  "-1",
		Priority:    3, //nolint:mnd // Jamf Pro's default package priority
	}
}

// HrefResponse is returned by Pro API create operations.
type HrefResponse struct {
	ID   string `json:"id"   yaml:"id"`
	Href string `json:"href" yaml:"href"`
}

// Package collection fields the server accepts in sort and filter expressions.
var (
	PackageSortFields = []string{
		"id", "packageName", "fileName", "categoryId", "info", "notes", "manifestFileName",
		"cloudTransferStatus",
	}
	PackageFilterFields = []string{
		"id", "packageName", "fileName", "categoryId", "info", "notes", "manifestFileName",
		"cloudTransferStatus",
	}
)

package logging

// Per-category convenience helpers mirroring the categories above.
// Info-level helpers carry the category name; *Debug variants log at
// debug level for the noisy paths.

func Boot(format string, args ...interface{})     { Get(CategoryBoot).Infof(format, args...) }
func Graph(format string, args ...interface{})    { Get(CategoryGraph).Infof(format, args...) }
func Deps(format string, args ...interface{})     { Get(CategoryDeps).Infof(format, args...) }
func Assign(format string, args ...interface{})   { Get(CategoryAssign).Infof(format, args...) }
func Lease(format string, args ...interface{})    { Get(CategoryLease).Infof(format, args...) }
func Progress(format string, args ...interface{}) { Get(CategoryProgress).Infof(format, args...) }
func Diag(format string, args ...interface{})     { Get(CategoryDiag).Infof(format, args...) }
func Provider(format string, args ...interface{}) { Get(CategoryProvider).Infof(format, args...) }
func Oracle(format string, args ...interface{})   { Get(CategoryOracle).Infof(format, args...) }
func Store(format string, args ...interface{})    { Get(CategoryStore).Infof(format, args...) }
func Registry(format string, args ...interface{}) { Get(CategoryRegistry).Infof(format, args...) }
func Worker(format string, args ...interface{})   { Get(CategoryWorker).Infof(format, args...) }

func GraphDebug(format string, args ...interface{})    { Get(CategoryGraph).Debugf(format, args...) }
func DepsDebug(format string, args ...interface{})     { Get(CategoryDeps).Debugf(format, args...) }
func AssignDebug(format string, args ...interface{})   { Get(CategoryAssign).Debugf(format, args...) }
func LeaseDebug(format string, args ...interface{})    { Get(CategoryLease).Debugf(format, args...) }
func ProgressDebug(format string, args ...interface{}) { Get(CategoryProgress).Debugf(format, args...) }
func ContextDebug(format string, args ...interface{})  { Get(CategoryContext).Debugf(format, args...) }
func DiagDebug(format string, args ...interface{})     { Get(CategoryDiag).Debugf(format, args...) }
func ProviderDebug(format string, args ...interface{}) { Get(CategoryProvider).Debugf(format, args...) }
func OracleDebug(format string, args ...interface{})   { Get(CategoryOracle).Debugf(format, args...) }
func StoreDebug(format string, args ...interface{})    { Get(CategoryStore).Debugf(format, args...) }
func WorkerDebug(format string, args ...interface{})   { Get(CategoryWorker).Debugf(format, args...) }

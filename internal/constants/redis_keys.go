package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// AnalysisModulePrefix 分析模块
	AnalysisModulePrefix = "analysis"
	// JobModulePrefix 异步任务模块
	JobModulePrefix = "job"

	// EntityCache 分析结果缓存实体
	EntityCache = "cache"
	// EntityStatus 任务状态实体
	EntityStatus = "status"
	// EntityLock 分布式锁实体
	EntityLock = "lock"

	// KeyAnalysisCache 分析结果缓存 (STRING, JSON序列化的CacheEntry)
	// 格式: app:analysis:cache:{fingerprint}
	KeyAnalysisCache = AppPrefix + ":" + AnalysisModulePrefix + ":" + EntityCache + ":%s"

	// KeyAnalysisLock 同一指纹的并发计算互斥锁 (STRING)
	// 格式: app:analysis:lock:{fingerprint}
	KeyAnalysisLock = AppPrefix + ":" + AnalysisModulePrefix + ":" + EntityLock + ":%s"

	// KeyJobStatus 异步任务状态镜像 (STRING, JSON序列化的AnalysisResponse)
	// 格式: app:job:status:{jobID}
	KeyJobStatus = AppPrefix + ":" + JobModulePrefix + ":" + EntityStatus + ":%s"
)
